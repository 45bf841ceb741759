package model

import (
	"fmt"
	"time"
)

type AlertKind string

const (
	AlertHighLatency AlertKind = "high_latency"
	AlertCallFailure AlertKind = "call_failure"
	AlertErrorRate   AlertKind = "error_rate"
	AlertDailyCost   AlertKind = "daily_cost"
)

// AlertSignal 阈值检测产生的告警信号，投递由外部完成
type AlertSignal struct {
	ID         string    `json:"id"`
	Kind       AlertKind `json:"kind"`
	ServerName string    `json:"server_name,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// MuteLabel groups repeated signals for anti-flood muting.
func (s *AlertSignal) MuteLabel() string {
	return fmt.Sprintf("mcp::%s::%s", s.Kind, s.ServerName)
}
