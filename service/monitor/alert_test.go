package monitor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yksanjo/mcp-performance-monitor/model"
)

func TestCheck(t *testing.T) {
	conf := testConfig(t)
	conf.Alerts.LatencyThresholdMs = 100
	m, _ := newTestMonitor(t, conf)

	assert.Empty(t, m.Check("fs", "read", 99, true))
	assert.Empty(t, m.Check("fs", "read", 100, true))

	signals := m.Check("fs", "read", 150, false)
	require.Len(t, signals, 2)
	assert.Equal(t, model.AlertHighLatency, signals[0].Kind)
	assert.Equal(t, 150.0, signals[0].Value)
	assert.Equal(t, 100.0, signals[0].Threshold)
	assert.NotEmpty(t, signals[0].ID)
	assert.NotEqual(t, signals[0].ID, signals[1].ID)
	assert.Equal(t, model.AlertCallFailure, signals[1].Kind)
	assert.Equal(t, "mcp::call_failure::fs", signals[1].MuteLabel())

	conf.Alerts.LatencyThresholdMs = 0
	assert.Empty(t, m.Check("fs", "read", 1e6, true))
}

func TestDispatchMuting(t *testing.T) {
	conf := testConfig(t)
	conf.Alerts.MuteDuration = time.Minute
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	m, _ := newClockedMonitor(t, conf, &now, WithNotifier(notifier))
	ctx := context.Background()

	signal := &model.AlertSignal{Kind: model.AlertCallFailure, ServerName: "fs"}
	other := &model.AlertSignal{Kind: model.AlertCallFailure, ServerName: "github"}

	assert.True(t, m.Dispatch(ctx, signal))
	assert.False(t, m.Dispatch(ctx, signal))
	assert.True(t, m.Dispatch(ctx, other))

	now = now.Add(61 * time.Second)
	assert.True(t, m.Dispatch(ctx, signal))
	// 静音时间翻倍为两分钟
	now = now.Add(61 * time.Second)
	assert.False(t, m.Dispatch(ctx, signal))
	now = now.Add(60 * time.Second)
	assert.True(t, m.Dispatch(ctx, signal))
	assert.Len(t, notifier.kinds(), 4)
}

func TestDispatchWithoutMuting(t *testing.T) {
	conf := testConfig(t)
	notifier := &recordingNotifier{}
	m, _ := newTestMonitor(t, conf, WithNotifier(notifier))

	signal := &model.AlertSignal{Kind: model.AlertHighLatency, ServerName: "fs"}
	for i := 0; i < 3; i++ {
		assert.True(t, m.Dispatch(context.Background(), signal))
	}
	assert.Len(t, notifier.kinds(), 3)
}

func TestSweep(t *testing.T) {
	conf := testConfig(t)
	conf.Alerts.ErrorRateThreshold = 0.05
	conf.Alerts.MinCallsForErrorRate = 10
	conf.Alerts.DailyCostLimitUSD = 1
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	m, st := newClockedMonitor(t, conf, &now, WithNotifier(notifier))

	cost := 0.3
	for i := 0; i < 10; i++ {
		appendAt(t, st, &model.PerformanceLog{ServerName: "alpha", Operation: "op", Success: i >= 3, CostUSD: &cost},
			now.Add(-10*time.Minute))
	}
	// 调用数不足，不计算错误率
	for i := 0; i < 5; i++ {
		appendAt(t, st, &model.PerformanceLog{ServerName: "beta", Operation: "op", Success: false}, now.Add(-5*time.Minute))
	}
	// 超过一小时的失败不计入错误率
	for i := 0; i < 20; i++ {
		appendAt(t, st, &model.PerformanceLog{ServerName: "gamma", Operation: "op", Success: false}, now.Add(-2*time.Hour))
	}

	signals, err := m.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, model.AlertErrorRate, signals[0].Kind)
	assert.Equal(t, "alpha", signals[0].ServerName)
	assert.InDelta(t, 0.3, signals[0].Value, 1e-9)
	assert.Equal(t, model.AlertDailyCost, signals[1].Kind)
	assert.InDelta(t, 3.0, signals[1].Value, 1e-9)
	m.dispatching.Wait()
	assert.ElementsMatch(t, []model.AlertKind{model.AlertErrorRate, model.AlertDailyCost}, notifier.kinds())
}

type blockingNotifier struct {
	release   chan struct{}
	delivered chan *model.AlertSignal
}

func (n *blockingNotifier) Notify(ctx context.Context, s *model.AlertSignal) error {
	<-n.release
	n.delivered <- s
	return nil
}

func TestAlertDeliveryDoesNotBlockCall(t *testing.T) {
	conf := testConfig(t)
	conf.Alerts.LatencyThresholdMs = 0
	notifier := &blockingNotifier{release: make(chan struct{}), delivered: make(chan *model.AlertSignal, 1)}
	m, st := newTestMonitor(t, conf, WithNotifier(notifier))
	var release sync.Once
	t.Cleanup(func() { release.Do(func() { close(notifier.release) }) })

	done := make(chan *model.CallResult, 1)
	go func() {
		done <- m.MonitorCall(context.Background(), model.CallOptions{ServerName: "fs", Operation: "read",
			Call: func(ctx context.Context) (any, error) { return nil, errors.New("boom") }})
	}()

	// 通知仍被阻塞时调用已返回
	select {
	case res := <-done:
		assert.False(t, res.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("MonitorCall waited for alert delivery")
	}
	assert.Equal(t, 1, countLogs(t, st))

	release.Do(func() { close(notifier.release) })
	select {
	case s := <-notifier.delivered:
		assert.Equal(t, model.AlertCallFailure, s.Kind)
		assert.Equal(t, "fs", s.ServerName)
	case <-time.After(5 * time.Second):
		t.Fatal("alert was not delivered")
	}
}

func TestConcurrentDispatchMutesOnce(t *testing.T) {
	conf := testConfig(t)
	conf.Alerts.MuteDuration = time.Hour
	notifier := &recordingNotifier{}
	m, _ := newTestMonitor(t, conf, WithNotifier(notifier))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Dispatch(context.Background(), &model.AlertSignal{Kind: model.AlertCallFailure, ServerName: "fs"})
		}()
	}
	wg.Wait()
	assert.Len(t, notifier.kinds(), 1)
}

func TestCron(t *testing.T) {
	conf := testConfig(t)
	m, _ := newTestMonitor(t, conf)
	require.NoError(t, m.StartCron())
	require.NoError(t, m.StartCron())
	m.StopCron()
	m.StopCron()

	conf.Alerts.SweepSpec = "not a spec"
	assert.Error(t, m.StartCron())
}

func TestWebhookNotifier(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
	}))
	defer srv.Close()

	conf := testConfig(t)
	conf.Alerts.LatencyThresholdMs = 0
	conf.Alerts.Webhooks = []model.WebhookConfig{
		{Name: "ok", URL: srv.URL, RequestBody: `{"text":"#ALERT.KIND# #ALERT.SERVER#"}`},
		{Name: "down", URL: "http://127.0.0.1:1/unreachable"},
	}
	m, _ := newTestMonitor(t, conf)

	res := m.MonitorCall(context.Background(), model.CallOptions{ServerName: "fs", Operation: "read",
		Call: func(ctx context.Context) (any, error) { return nil, errors.New("boom") }})
	assert.False(t, res.Success)
	m.dispatching.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"text":"call_failure fs"}`}, bodies)

	err := Notifiers{NewWebhookNotifier(conf.Alerts.Webhooks[1:], nil)}.Notify(context.Background(), &model.AlertSignal{Kind: model.AlertDailyCost})
	assert.ErrorContains(t, err, "webhook down")
}
