package model

const (
	CtxKeyRequestStart = "ckrs"
)

// CommonResponse 接口统一返回结构
type CommonResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
