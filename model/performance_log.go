package model

import (
	"time"

	"github.com/yksanjo/mcp-performance-monitor/pkg/utils"
)

// PerformanceLog 单次调用的记录，写入后不再修改
type PerformanceLog struct {
	ID         uint64   `gorm:"primaryKey" json:"id"`
	ServerName string   `gorm:"index:idx_performance_logs_server_name;not null" json:"server_name"`
	Operation  string   `gorm:"index:idx_performance_logs_operation;not null" json:"operation"`
	LatencyMs  float64  `gorm:"not null" json:"latency_ms"`
	Success    bool     `gorm:"not null" json:"success"`
	ErrorType  *string  `json:"error_type,omitempty"`
	TokensUsed *int64   `json:"tokens_used,omitempty"`
	CostUSD    *float64 `gorm:"column:cost_usd" json:"cost_usd,omitempty"`
	// 原样存储，读出时原样返回
	Metadata  string    `gorm:"type:text" json:"metadata,omitempty"`
	Timestamp time.Time `gorm:"index:idx_performance_logs_timestamp;<-:create" json:"timestamp"`
}

func (PerformanceLog) TableName() string {
	return "performance_logs"
}

// EncodeMetadata serializes caller metadata for storage. A nil map is stored as "".
func EncodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "", nil
	}
	data, err := utils.Json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMetadata unmarshals the stored metadata into v. Empty metadata leaves v untouched.
func (l *PerformanceLog) DecodeMetadata(v any) error {
	if l.Metadata == "" {
		return nil
	}
	return utils.Json.Unmarshal([]byte(l.Metadata), v)
}
