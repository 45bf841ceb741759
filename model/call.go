package model

import (
	"context"
	"fmt"
	"time"
)

// CallDecision 调用开始前就确定的记录决策
type CallDecision string

const (
	CallLogged          CallDecision = "logged"
	CallSkippedDisabled CallDecision = "skipped_disabled"
	CallSkippedSampled  CallDecision = "skipped_sampled"
)

type CallOptions struct {
	ServerName string
	Operation  string
	Call       func(ctx context.Context) (any, error)
	Metadata   map[string]any
}

// CallResult 是 MonitorCall 的返回信封，工作函数的失败放在 Err 中返回
type CallResult struct {
	Success   bool         `json:"success"`
	Result    any          `json:"result,omitempty"`
	Err       error        `json:"-"`
	LatencyMs float64      `json:"latency_ms"`
	Timestamp time.Time    `json:"timestamp"`
	Decision  CallDecision `json:"decision"`
}

// TokenReporter is implemented by call results that know how many tokens they consumed.
type TokenReporter interface {
	TokensUsed() int64
}

// PanicError carries a value recovered from a panicking call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("call panicked: %v", e.Value)
}

func (e *PanicError) ErrorType() string {
	return "Panic"
}
