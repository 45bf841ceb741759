package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var Json = jsoniter.ConfigCompatibleWithStandardLibrary

func IsFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Percentile 取升序序列中 floor(n*p) 位置的值，越界时取最后一个，空序列返回 0
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// SortedCopy returns an ascending copy of values.
func SortedCopy(values []float64) []float64 {
	ret := make([]float64, len(values))
	copy(ret, values)
	sort.Float64s(ret)
	return ret
}

// ErrorType classifies an error for storage. Errors can name their own category by
// implementing ErrorType() string; otherwise the dynamic type name is used.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var typed interface{ ErrorType() string }
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
