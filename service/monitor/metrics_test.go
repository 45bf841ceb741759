package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yksanjo/mcp-performance-monitor/model"
	"github.com/yksanjo/mcp-performance-monitor/pkg/logger"
	"github.com/yksanjo/mcp-performance-monitor/service/store"
)

func newClockedMonitor(t *testing.T, conf *model.Config, now *time.Time, opts ...Option) (*Monitor, *store.Store) {
	t.Helper()
	clock := func() time.Time { return *now }
	st := store.New(conf.Storage, store.WithClock(clock))
	opts = append([]Option{WithLogger(logger.Nop()), WithClock(clock)}, opts...)
	m := New(conf, st, opts...)
	require.NoError(t, m.Init(context.Background()))
	t.Cleanup(func() { m.Close() })
	return m, st
}

func appendAt(t *testing.T, st *store.Store, l *model.PerformanceLog, at time.Time) {
	t.Helper()
	_, err := st.AppendLogAt(context.Background(), l, at)
	require.NoError(t, err)
}

func TestPerformanceMetricsPercentiles(t *testing.T) {
	conf := testConfig(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, st := newClockedMonitor(t, conf, &now)

	for i := 1; i <= 100; i++ {
		appendAt(t, st, &model.PerformanceLog{
			ServerName: "fs",
			Operation:  "read",
			LatencyMs:  float64(i * 10),
			Success:    i%10 != 0,
		}, now.Add(-time.Duration(101-i)*time.Minute))
	}

	pm, err := m.GetPerformanceMetrics(context.Background(), "fs", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), pm.TotalCalls)
	assert.Equal(t, int64(90), pm.SuccessfulCalls)
	assert.InDelta(t, 0.1, pm.ErrorRate, 1e-9)
	assert.Equal(t, 510.0, pm.P50LatencyMs)
	assert.Equal(t, 960.0, pm.P95LatencyMs)
	assert.Equal(t, 1000.0, pm.P99LatencyMs)
	assert.InDelta(t, 100.0/24, pm.CallsPerHour, 1e-9)
	assert.True(t, pm.LastUpdated.Equal(now))

	empty, err := m.GetPerformanceMetrics(context.Background(), "nobody", nil)
	require.NoError(t, err)
	assert.Equal(t, "nobody", empty.ServerName)
	assert.Zero(t, empty.TotalCalls)
	assert.Zero(t, empty.ErrorRate)
	assert.Zero(t, empty.P50LatencyMs)
	assert.Zero(t, empty.CallsPerHour)
}

func TestPerformanceMetricsWindow(t *testing.T) {
	conf := testConfig(t)
	conf.Monitoring.PercentileWindow = 10
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, st := newClockedMonitor(t, conf, &now)

	// 最早的一条在 24 小时之外，只影响总数不影响调用频率
	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "read", LatencyMs: 1, Success: true}, now.AddDate(0, 0, -3))
	for i := 1; i <= 20; i++ {
		appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "read", LatencyMs: float64(i), Success: true},
			now.Add(-time.Duration(21-i)*time.Minute))
	}

	pm, err := m.GetPerformanceMetrics(context.Background(), "fs", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(21), pm.TotalCalls)
	assert.Equal(t, 16.0, pm.P50LatencyMs)
	assert.Equal(t, 20.0, pm.P99LatencyMs)
	assert.InDelta(t, 20.0/24, pm.CallsPerHour, 1e-9)

	tr, err := model.ParseTimeRangePreset("24h", now)
	require.NoError(t, err)
	agg, err := m.GetServerMetrics(context.Background(), "fs", tr)
	require.NoError(t, err)
	assert.Equal(t, int64(20), agg.TotalCalls)
}

func TestAllMetricsAndCompare(t *testing.T) {
	conf := testConfig(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, st := newClockedMonitor(t, conf, &now)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		_, err := m.RegisterServer(ctx, &model.MonitoredServer{Name: name, Enabled: true})
		require.NoError(t, err)
	}
	appendAt(t, st, &model.PerformanceLog{ServerName: "alpha", Operation: "a", LatencyMs: 10, Success: true}, now)
	appendAt(t, st, &model.PerformanceLog{ServerName: "alpha", Operation: "a", LatencyMs: 30, Success: false}, now)
	appendAt(t, st, &model.PerformanceLog{ServerName: "gamma", Operation: "g", LatencyMs: 5, Success: true}, now.AddDate(0, 0, -10))

	all, err := m.GetAllMetrics(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].ServerName)
	assert.Equal(t, "gamma", all[1].ServerName)

	tr, err := model.ParseTimeRangePreset("7d", now)
	require.NoError(t, err)
	all, err = m.GetAllMetrics(ctx, tr)
	require.NoError(t, err)
	require.Len(t, all, 1)

	cmp, err := m.CompareServers(ctx, []string{"beta", "ghost", "alpha"}, nil)
	require.NoError(t, err)
	require.Len(t, cmp, 2)
	assert.Equal(t, "beta", cmp[0].Server.Name)
	assert.Zero(t, cmp[0].Metrics.TotalCalls)
	assert.Equal(t, "alpha", cmp[1].Server.Name)
	assert.Equal(t, int64(2), cmp[1].Metrics.TotalCalls)
	assert.Equal(t, 20.0, cmp[1].Metrics.AvgLatencyMs)

	logs, err := m.GetRecentLogs(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestUsagePatterns(t *testing.T) {
	conf := testConfig(t)
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	m, st := newClockedMonitor(t, conf, &now)
	ctx := context.Background()

	_, err := m.RegisterServer(ctx, &model.MonitoredServer{Name: "fs", Enabled: true})
	require.NoError(t, err)
	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "read", Success: true}, now)
	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "read", Success: true}, now.Add(-time.Minute))
	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "write", Success: true}, now.Add(-2*time.Hour))
	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "write", Success: true}, now.AddDate(0, 0, -2))
	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "list", Success: true}, now.AddDate(0, 0, -2))

	up, err := m.GetUsagePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, up.TotalServers)
	assert.Equal(t, int64(5), up.TotalCalls)
	require.Len(t, up.HourlyDistribution, 24)
	assert.Equal(t, int64(2), up.HourlyDistribution[12].Calls)
	assert.Equal(t, int64(1), up.HourlyDistribution[10].Calls)
	var sum int64
	for h, c := range up.HourlyDistribution {
		assert.Equal(t, h, c.Hour)
		sum += c.Calls
	}
	assert.Equal(t, int64(3), sum)
	require.Len(t, up.OperationDistribution, 3)
	assert.Equal(t, "list", up.OperationDistribution[2].Operation)
}

func TestCleanup(t *testing.T) {
	conf := testConfig(t)
	conf.Storage.RetentionDays = 30
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, st := newClockedMonitor(t, conf, &now)
	ctx := context.Background()

	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "read", Success: true}, now.AddDate(0, 0, -40))
	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "read", Success: true}, now.AddDate(0, 0, -20))
	appendAt(t, st, &model.PerformanceLog{ServerName: "fs", Operation: "read", Success: true}, now)

	removed, err := m.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = m.Cleanup(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	conf.Storage.RetentionDays = 0
	removed, err = m.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 1, countLogs(t, st))
}
