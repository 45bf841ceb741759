package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	var latencies []float64
	for i := 1; i <= 100; i++ {
		latencies = append(latencies, float64(i*10))
	}

	cases := []struct {
		name   string
		input  []float64
		p      float64
		expect float64
	}{
		{"empty", nil, 0.5, 0},
		{"single p50", []float64{42}, 0.5, 42},
		{"single p99", []float64{42}, 0.99, 42},
		{"hundred p50", latencies, 0.5, 510},
		{"hundred p95", latencies, 0.95, 960},
		{"hundred p99", latencies, 0.99, 1000},
		{"clamped p100", latencies, 1, 1000},
		{"two p50", []float64{1, 2}, 0.5, 2},
		{"two p0", []float64{1, 2}, 0, 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, Percentile(c.input, c.p))
		})
	}
}

func TestSortedCopy(t *testing.T) {
	in := []float64{3, 1, 2}
	out := SortedCopy(in)
	assert.Equal(t, []float64{1, 2, 3}, out)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

type quotaError struct{}

func (quotaError) Error() string     { return "quota" }
func (quotaError) ErrorType() string { return "QuotaExceeded" }

func TestErrorType(t *testing.T) {
	assert.Equal(t, "", ErrorType(nil))
	assert.Equal(t, "errors.errorString", ErrorType(errors.New("boom")))
	assert.Equal(t, "QuotaExceeded", ErrorType(quotaError{}))
	assert.Equal(t, "QuotaExceeded", ErrorType(fmt.Errorf("call: %w", quotaError{})))
	assert.Equal(t, "DeadlineExceeded", ErrorType(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, "Canceled", ErrorType(context.Canceled))
}

func TestGjsonParseStringMap(t *testing.T) {
	m, err := GjsonParseStringMap(`{"a":"x","b":2}`)
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "x", "b": "2"}, m)

	m, err = GjsonParseStringMap("")
	assert.NoError(t, err)
	assert.Nil(t, m)

	_, err = GjsonParseStringMap(`[1,2]`)
	assert.ErrorIs(t, err, ErrGjsonWrongType)
}
