package monitor

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yksanjo/mcp-performance-monitor/model"
	"github.com/yksanjo/mcp-performance-monitor/pkg/utils"
	"github.com/yksanjo/mcp-performance-monitor/service/store"
)

func filterFor(serverName string, tr *model.TimeRange) store.LogFilter {
	start, end := tr.Bounds()
	return store.LogFilter{ServerName: serverName, Start: start, End: end}
}

func (m *Monitor) RegisterServer(ctx context.Context, server *model.MonitoredServer) (uint64, error) {
	if err := m.Init(ctx); err != nil {
		return 0, err
	}
	return m.store.RegisterServer(ctx, server)
}

func (m *Monitor) GetServers(ctx context.Context) ([]*model.MonitoredServer, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	return m.store.GetAllServers(ctx)
}

// GetServer returns nil when the name is not registered.
func (m *Monitor) GetServer(ctx context.Context, name string) (*model.MonitoredServer, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	return m.store.GetServer(ctx, name)
}

// GetServerMetrics 返回单个服务的统计，没有数据时返回只带名称的零值
func (m *Monitor) GetServerMetrics(ctx context.Context, name string, tr *model.TimeRange) (*model.Aggregate, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	aggs, err := m.store.QueryAggregates(ctx, filterFor(name, tr))
	if err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		return model.EmptyAggregate(name), nil
	}
	return aggs[0], nil
}

func (m *Monitor) GetAllMetrics(ctx context.Context, tr *model.TimeRange) ([]*model.Aggregate, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	return m.store.QueryAggregates(ctx, filterFor("", tr))
}

// GetRecentLogs returns the newest logs first. An empty serverName matches every server.
func (m *Monitor) GetRecentLogs(ctx context.Context, serverName string, limit int) ([]*model.PerformanceLog, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	return m.store.QueryLogs(ctx, store.LogFilter{ServerName: serverName, Limit: limit})
}

// GetPerformanceMetrics 在统计之上补充分位数与调用频率。
// 分位数取最近 percentile_window 条日志，不受时间区间影响
func (m *Monitor) GetPerformanceMetrics(ctx context.Context, name string, tr *model.TimeRange) (*model.PerformanceMetrics, error) {
	agg, err := m.GetServerMetrics(ctx, name, tr)
	if err != nil {
		return nil, err
	}
	logs, err := m.store.QueryLogs(ctx, store.LogFilter{ServerName: name, Limit: m.conf.Monitoring.PercentileWindow})
	if err != nil {
		return nil, err
	}
	latencies := make([]float64, 0, len(logs))
	for _, l := range logs {
		latencies = append(latencies, l.LatencyMs)
	}
	latencies = utils.SortedCopy(latencies)

	now := m.now()
	dayAgo := now.Add(-24 * time.Hour)
	day, err := m.store.QueryAggregates(ctx, store.LogFilter{ServerName: name, Start: &dayAgo, End: &now})
	if err != nil {
		return nil, err
	}
	var dayCalls int64
	if len(day) > 0 {
		dayCalls = day[0].TotalCalls
	}

	pm := &model.PerformanceMetrics{
		Aggregate:    *agg,
		P50LatencyMs: utils.Percentile(latencies, 0.5),
		P95LatencyMs: utils.Percentile(latencies, 0.95),
		P99LatencyMs: utils.Percentile(latencies, 0.99),
		CallsPerHour: float64(dayCalls) / 24,
		LastUpdated:  now,
	}
	if agg.TotalCalls > 0 {
		pm.ErrorRate = 1 - agg.SuccessRate
	}
	return pm, nil
}

// CompareServers 并发查询多个服务的统计，未登记的名称会被跳过，结果保持入参顺序
func (m *Monitor) CompareServers(ctx context.Context, names []string, tr *model.TimeRange) ([]*model.ServerComparison, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	results := make([]*model.ServerComparison, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			server, err := m.store.GetServer(gctx, name)
			if err != nil || server == nil {
				return err
			}
			agg, err := m.GetServerMetrics(gctx, name, tr)
			if err != nil {
				return err
			}
			results[i] = &model.ServerComparison{Server: server, Metrics: agg}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	comparisons := make([]*model.ServerComparison, 0, len(results))
	for _, r := range results {
		if r != nil {
			comparisons = append(comparisons, r)
		}
	}
	return comparisons, nil
}

// GetUsagePatterns 统计操作分布与最近 24 小时按小时（UTC）的调用分布
func (m *Monitor) GetUsagePatterns(ctx context.Context) (*model.UsagePatterns, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	ops, err := m.store.QueryOperationCounts(ctx, store.LogFilter{})
	if err != nil {
		return nil, err
	}
	servers, err := m.store.GetAllServers(ctx)
	if err != nil {
		return nil, err
	}
	aggs, err := m.store.QueryAggregates(ctx, store.LogFilter{})
	if err != nil {
		return nil, err
	}

	now := m.now()
	dayAgo := now.Add(-24 * time.Hour)
	recent, err := m.store.QueryLogs(ctx, store.LogFilter{Start: &dayAgo, End: &now, Limit: math.MaxInt32})
	if err != nil {
		return nil, err
	}
	hourly := make([]model.HourlyCount, 24)
	for h := range hourly {
		hourly[h].Hour = h
	}
	for _, l := range recent {
		hourly[l.Timestamp.UTC().Hour()].Calls++
	}

	return &model.UsagePatterns{
		HourlyDistribution:    hourly,
		OperationDistribution: ops,
		TotalServers:          len(servers),
		TotalCalls:            model.FoldAggregates(aggs).TotalCalls,
	}, nil
}

// Cleanup purges logs past retention. retentionDays <= 0 falls back to the configured value,
// and a configured value of 0 keeps everything.
func (m *Monitor) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = m.conf.Storage.RetentionDays
	}
	if retentionDays <= 0 {
		return 0, nil
	}
	if err := m.Init(ctx); err != nil {
		return 0, err
	}
	removed, err := m.store.PurgeOlderThan(ctx, retentionDays)
	if err != nil {
		return 0, err
	}
	m.log.Infow("purged call logs", "retention_days", retentionDays, "removed", removed)
	return removed, nil
}
