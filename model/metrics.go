package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTimeRange = errors.New("invalid time range")

// Aggregate 按服务分组的统计结果，每次查询时现算，不落库
type Aggregate struct {
	ServerName      string  `json:"server_name"`
	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	ErrorCalls      int64   `json:"error_calls"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	MinLatencyMs    float64 `json:"min_latency_ms"`
	MaxLatencyMs    float64 `json:"max_latency_ms"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

// NewAggregate fills the derived fields from the raw grouped counters.
func NewAggregate(serverName string, total, successful int64, avg, min, max, cost float64) *Aggregate {
	a := &Aggregate{
		ServerName:      serverName,
		TotalCalls:      total,
		SuccessfulCalls: successful,
		ErrorCalls:      total - successful,
		AvgLatencyMs:    avg,
		MinLatencyMs:    min,
		MaxLatencyMs:    max,
		TotalCostUSD:    cost,
	}
	if total > 0 {
		a.SuccessRate = float64(successful) / float64(total)
	}
	return a
}

// EmptyAggregate is the "no data" result for a server.
func EmptyAggregate(serverName string) *Aggregate {
	return &Aggregate{ServerName: serverName}
}

type PerformanceMetrics struct {
	Aggregate
	ErrorRate    float64   `json:"error_rate"`
	P50LatencyMs float64   `json:"p50_latency_ms"`
	P95LatencyMs float64   `json:"p95_latency_ms"`
	P99LatencyMs float64   `json:"p99_latency_ms"`
	CallsPerHour float64   `json:"calls_per_hour"`
	LastUpdated  time.Time `json:"last_updated"`
}

type OverallMetrics struct {
	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	ErrorCalls      int64   `json:"error_calls"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

// FoldAggregates 汇总各服务的统计，平均延迟按调用次数加权
func FoldAggregates(aggs []*Aggregate) OverallMetrics {
	var o OverallMetrics
	var weightedLatency float64
	for _, a := range aggs {
		o.TotalCalls += a.TotalCalls
		o.SuccessfulCalls += a.SuccessfulCalls
		o.ErrorCalls += a.ErrorCalls
		o.TotalCostUSD += a.TotalCostUSD
		weightedLatency += a.AvgLatencyMs * float64(a.TotalCalls)
	}
	if o.TotalCalls > 0 {
		o.SuccessRate = float64(o.SuccessfulCalls) / float64(o.TotalCalls)
		o.AvgLatencyMs = weightedLatency / float64(o.TotalCalls)
	}
	return o
}

type AllMetrics struct {
	ByServer []*Aggregate  `json:"by_server"`
	Overall  OverallMetrics `json:"overall"`
}

type ServerMetricsResponse struct {
	PerformanceMetrics
	RecentLogs []*PerformanceLog `json:"recent_logs"`
}

type ServerComparison struct {
	Server  *MonitoredServer `json:"server"`
	Metrics *Aggregate       `json:"metrics"`
}

type OperationCount struct {
	Operation string `json:"operation"`
	Count     int64  `json:"count"`
}

type HourlyCount struct {
	Hour  int   `json:"hour"`
	Calls int64 `json:"calls"`
}

type UsagePatterns struct {
	HourlyDistribution    []HourlyCount     `json:"hourly_distribution"`
	OperationDistribution []*OperationCount `json:"operation_distribution"`
	TotalServers          int               `json:"total_servers"`
	TotalCalls            int64             `json:"total_calls"`
}

// TimeRange 已解析的时间区间，nil 表示不限
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (tr *TimeRange) Bounds() (start, end *time.Time) {
	if tr == nil {
		return nil, nil
	}
	s, e := tr.Start, tr.End
	return &s, &e
}

// ParseTimeRangePreset resolves the dashboard presets relative to now.
// An empty preset is unbounded and returns nil.
func ParseTimeRangePreset(preset string, now time.Time) (*TimeRange, error) {
	var span time.Duration
	switch preset {
	case "":
		return nil, nil
	case "24h":
		span = 24 * time.Hour
	case "7d":
		span = 7 * 24 * time.Hour
	case "30d":
		span = 30 * 24 * time.Hour
	default:
		return nil, fmt.Errorf("%w: unknown preset %q", ErrInvalidTimeRange, preset)
	}
	return &TimeRange{Start: now.Add(-span), End: now}, nil
}
