package monitor

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yksanjo/mcp-performance-monitor/pkg/logger"
)

type collectors struct {
	calls       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	logFailures prometheus.Counter
}

func newCollectors(reg prometheus.Registerer, log *logger.Logger) *collectors {
	labels := []string{"server", "operation", "success"}
	c := &collectors{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_calls_total",
			Help: "Total number of logged MCP calls",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_call_duration_seconds",
			Help:    "Latency of logged MCP calls",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, labels),
		logFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_monitor_log_failures_total",
			Help: "Call logs that could not be written",
		}),
	}
	if reg == nil {
		return c
	}

	// 同一个 Registerer 上重复创建 Monitor 时沿用已注册的指标
	if err := reg.Register(c.calls); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			c.calls = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			log.Warnw("register collector", "name", "mcp_calls_total", "error", err)
		}
	}
	if err := reg.Register(c.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			c.duration = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			log.Warnw("register collector", "name", "mcp_call_duration_seconds", "error", err)
		}
	}
	if err := reg.Register(c.logFailures); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			c.logFailures = are.ExistingCollector.(prometheus.Counter)
		} else {
			log.Warnw("register collector", "name", "mcp_monitor_log_failures_total", "error", err)
		}
	}
	return c
}

func (c *collectors) observe(server, operation string, success bool, latencyMs float64) {
	s := strconv.FormatBool(success)
	c.calls.WithLabelValues(server, operation, s).Inc()
	c.duration.WithLabelValues(server, operation, s).Observe(latencyMs / 1000)
}

func (c *collectors) logFailure() {
	c.logFailures.Inc()
}
