package model

import (
	"time"
)

// MonitoredServer 被监控的 MCP 服务
type MonitoredServer struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	URL         string    `json:"url,omitempty"`
	Category    string    `json:"category,omitempty"`
	Version     string    `json:"version,omitempty"`
	Enabled     bool      `json:"enabled"`
	CostPerCall *float64  `json:"cost_per_call,omitempty"`
	AddedAt     time.Time `gorm:"<-:create" json:"added_at"`
}

func (MonitoredServer) TableName() string {
	return "mcp_servers"
}

type ServerForm struct {
	Name        string   `json:"name,omitempty"`
	URL         string   `json:"url,omitempty"`
	Category    string   `json:"category,omitempty"`
	Version     string   `json:"version,omitempty"`
	Enabled     *bool    `json:"enabled,omitempty" copier:"-"`
	CostPerCall *float64 `json:"cost_per_call,omitempty"`
}

// ServerFromConfig converts a configured server entry into its registry form.
func ServerFromConfig(sc ServerConfig) *MonitoredServer {
	return &MonitoredServer{
		Name:        sc.Name,
		URL:         sc.URL,
		Category:    sc.Category,
		Version:     sc.Version,
		Enabled:     sc.Enabled,
		CostPerCall: sc.CostPerCall,
	}
}
