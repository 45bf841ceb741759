package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/yksanjo/mcp-performance-monitor/model"
	"github.com/yksanjo/mcp-performance-monitor/pkg/logger"
	"github.com/yksanjo/mcp-performance-monitor/service/store"
)

const maxMuteDuration = time.Hour * 24

// Notifier delivers alert signals.
type Notifier interface {
	Notify(ctx context.Context, signal *model.AlertSignal) error
}

// LogNotifier 只把告警写入日志
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(l *logger.Logger) *LogNotifier {
	return &LogNotifier{log: l}
}

func (n *LogNotifier) Notify(ctx context.Context, s *model.AlertSignal) error {
	n.log.Warnw(s.Message,
		"alert_id", s.ID,
		"kind", s.Kind,
		"server", s.ServerName,
		"operation", s.Operation,
		"value", s.Value,
		"threshold", s.Threshold,
	)
	return nil
}

// WebhookNotifier 向配置的所有回调地址投递告警
type WebhookNotifier struct {
	hooks []model.WebhookConfig
	loc   *time.Location
}

func NewWebhookNotifier(hooks []model.WebhookConfig, loc *time.Location) *WebhookNotifier {
	return &WebhookNotifier{hooks: hooks, loc: loc}
}

func (n *WebhookNotifier) Notify(ctx context.Context, s *model.AlertSignal) error {
	var errs []error
	for i := range n.hooks {
		wb := model.WebhookBundle{Webhook: &n.hooks[i], Signal: s, Loc: n.loc}
		if err := wb.Send(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", n.hooks[i].Name, err))
		}
	}
	return errors.Join(errs...)
}

// Notifiers fans a signal out to every notifier and joins their errors.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, s *model.AlertSignal) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type muteHistory struct {
	Duration time.Duration
	Until    time.Time
}

func (m *Monitor) newSignal(kind model.AlertKind, server, operation string, value, threshold float64, msg string) *model.AlertSignal {
	id, err := uuid.GenerateUUID()
	if err != nil {
		m.log.Warnw("generate alert id", "error", err)
	}
	return &model.AlertSignal{
		ID:         id,
		Kind:       kind,
		ServerName: server,
		Operation:  operation,
		Value:      value,
		Threshold:  threshold,
		Message:    msg,
		At:         m.now(),
	}
}

// Check 对单次已记录的调用做阈值检测
func (m *Monitor) Check(serverName, operation string, latencyMs float64, success bool) []*model.AlertSignal {
	var signals []*model.AlertSignal
	threshold := m.conf.Alerts.LatencyThresholdMs
	if threshold > 0 && latencyMs > threshold {
		signals = append(signals, m.newSignal(model.AlertHighLatency, serverName, operation, latencyMs, threshold,
			fmt.Sprintf("high latency on %s.%s: %.1fms > %.1fms", serverName, operation, latencyMs, threshold)))
	}
	if !success {
		signals = append(signals, m.newSignal(model.AlertCallFailure, serverName, operation, 1, 0,
			fmt.Sprintf("call failed on %s.%s", serverName, operation)))
	}
	return signals
}

// muted 通知防骚扰策略：首次直接通知，之后每次通知等待时间加倍，最长一天
func (m *Monitor) muted(label string) bool {
	first := m.conf.Alerts.MuteDuration
	if first <= 0 {
		return false
	}
	m.muteLock.Lock()
	defer m.muteLock.Unlock()
	now := m.now()
	if cached, has := m.muteCache.Get(label); has {
		history := cached.(muteHistory)
		if !now.After(history.Until) {
			return true
		}
		history.Duration *= 2
		if history.Duration > maxMuteDuration {
			history.Duration = maxMuteDuration
		}
		history.Until = now.Add(history.Duration)
		m.muteCache.Set(label, history, history.Duration+time.Minute*10)
		return false
	}
	m.muteCache.Set(label, muteHistory{
		Duration: first,
		Until:    now.Add(first),
	}, first+time.Minute*10)
	return false
}

// Dispatch hands the signal to the notifier unless its label is muted. It reports whether
// the signal was delivered.
func (m *Monitor) Dispatch(ctx context.Context, signal *model.AlertSignal) bool {
	if m.muted(signal.MuteLabel()) {
		if m.conf.Debug {
			m.log.Debugw("muted repeated alert", "label", signal.MuteLabel(), "message", signal.Message)
		}
		return false
	}
	if err := m.notifier.Notify(ctx, signal); err != nil {
		m.log.Errorw("notify alert", "kind", signal.Kind, "server", signal.ServerName, "error", err)
		return false
	}
	return true
}

// dispatchAsync 在后台投递告警，不阻塞调用方
func (m *Monitor) dispatchAsync(ctx context.Context, signal *model.AlertSignal) {
	m.dispatching.Add(1)
	go func() {
		defer m.dispatching.Done()
		m.Dispatch(ctx, signal)
	}()
}

// Sweep 周期检查最近一小时的错误率与当日费用，返回产生的告警
func (m *Monitor) Sweep(ctx context.Context) ([]*model.AlertSignal, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	conf := m.conf.Alerts
	now := m.now()
	var signals []*model.AlertSignal

	hourAgo := now.Add(-time.Hour)
	hourly, err := m.store.QueryAggregates(ctx, store.LogFilter{Start: &hourAgo, End: &now})
	if err != nil {
		return nil, err
	}
	for _, a := range hourly {
		if a.TotalCalls == 0 || a.TotalCalls < conf.MinCallsForErrorRate {
			continue
		}
		rate := 1 - a.SuccessRate
		if rate > conf.ErrorRateThreshold {
			signals = append(signals, m.newSignal(model.AlertErrorRate, a.ServerName, "", rate, conf.ErrorRateThreshold,
				fmt.Sprintf("error rate of %s over the last hour is %.1f%% (%d/%d calls)",
					a.ServerName, rate*100, a.ErrorCalls, a.TotalCalls)))
		}
	}

	if conf.DailyCostLimitUSD > 0 {
		utcNow := now.UTC()
		dayStart := time.Date(utcNow.Year(), utcNow.Month(), utcNow.Day(), 0, 0, 0, 0, time.UTC)
		today, err := m.store.QueryAggregates(ctx, store.LogFilter{Start: &dayStart, End: &now})
		if err != nil {
			return nil, err
		}
		total := model.FoldAggregates(today).TotalCostUSD
		if total > conf.DailyCostLimitUSD {
			signals = append(signals, m.newSignal(model.AlertDailyCost, "", "", total, conf.DailyCostLimitUSD,
				fmt.Sprintf("daily cost $%.4f exceeds limit $%.2f", total, conf.DailyCostLimitUSD)))
		}
	}

	for _, s := range signals {
		m.dispatchAsync(context.WithoutCancel(ctx), s)
	}
	return signals, nil
}
