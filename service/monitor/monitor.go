package monitor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/yksanjo/mcp-performance-monitor/model"
	"github.com/yksanjo/mcp-performance-monitor/pkg/logger"
	"github.com/yksanjo/mcp-performance-monitor/pkg/utils"
	"github.com/yksanjo/mcp-performance-monitor/service/store"
)

var ErrNoCall = errors.New("monitor: call function is nil")

// Store is the persistence the monitor needs. *store.Store implements it.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	RegisterServer(ctx context.Context, server *model.MonitoredServer) (uint64, error)
	GetServer(ctx context.Context, name string) (*model.MonitoredServer, error)
	GetAllServers(ctx context.Context) ([]*model.MonitoredServer, error)
	AppendLog(ctx context.Context, log *model.PerformanceLog) (uint64, error)
	QueryLogs(ctx context.Context, f store.LogFilter) ([]*model.PerformanceLog, error)
	QueryAggregates(ctx context.Context, f store.LogFilter) ([]*model.Aggregate, error)
	QueryOperationCounts(ctx context.Context, f store.LogFilter) ([]*model.OperationCount, error)
	PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// Monitor 包装调用并记录耗时、结果与费用
type Monitor struct {
	conf     *model.Config
	store    Store
	log      *logger.Logger
	now      func() time.Time
	draw     func() float64
	notifier Notifier
	registry prometheus.Registerer
	metrics  *collectors

	// 告警防骚扰
	muteLock  sync.Mutex
	muteCache *cache.Cache
	// 后台投递中的告警
	dispatching sync.WaitGroup

	initLock    sync.Mutex
	initialized bool

	cronLock sync.Mutex
	cron     *cron.Cron
}

type Option func(*Monitor)

// WithRand replaces the sampling source. draw must return values in [0, 1).
func WithRand(draw func() float64) Option {
	return func(m *Monitor) {
		m.draw = draw
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(m *Monitor) {
		m.log = l
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Monitor) {
		m.notifier = n
	}
}

// WithRegisterer registers the call collectors on reg instead of leaving them unexported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) {
		m.registry = reg
	}
}

func New(conf *model.Config, st Store, opts ...Option) *Monitor {
	m := &Monitor{
		conf:      conf,
		store:     st,
		now:       time.Now,
		draw:      rand.Float64,
		muteCache: cache.New(5*time.Minute, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Get().Named("monitor")
	}
	if m.notifier == nil {
		var ns Notifiers
		ns = append(ns, NewLogNotifier(m.log))
		if len(conf.Alerts.Webhooks) > 0 {
			ns = append(ns, NewWebhookNotifier(conf.Alerts.Webhooks, time.Local))
		}
		m.notifier = ns
	}
	m.metrics = newCollectors(m.registry, m.log)
	return m
}

// Init 打开存储并登记配置文件中的服务，只会成功执行一次
func (m *Monitor) Init(ctx context.Context) error {
	m.initLock.Lock()
	defer m.initLock.Unlock()
	if m.initialized {
		return nil
	}
	if err := m.store.Init(ctx); err != nil {
		return err
	}
	for _, sc := range m.conf.Servers {
		if _, err := m.store.RegisterServer(ctx, model.ServerFromConfig(sc)); err != nil {
			return err
		}
	}
	m.initialized = true
	return nil
}

// Close stops the scheduler, waits for alerts still being delivered and closes the store.
// A later call re-initializes lazily.
func (m *Monitor) Close() error {
	m.StopCron()
	m.dispatching.Wait()
	m.initLock.Lock()
	defer m.initLock.Unlock()
	m.initialized = false
	return m.store.Close()
}

// decide 只有 draw 严格小于采样率时才记录，因此采样率为 0 时从不记录
func (m *Monitor) decide() model.CallDecision {
	if !m.conf.Monitoring.Enabled {
		return model.CallSkippedDisabled
	}
	if m.draw() >= m.conf.Monitoring.SampleRate {
		return model.CallSkippedSampled
	}
	return model.CallLogged
}

func invoke(ctx context.Context, call func(ctx context.Context) (any, error)) (result any, err error) {
	if call == nil {
		return nil, ErrNoCall
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &model.PanicError{Value: r}
		}
	}()
	return call(ctx)
}

// MonitorCall runs opts.Call exactly once and reports the outcome. It never panics and
// never returns an error itself: the work's failure is carried in CallResult.Err, and
// bookkeeping failures are only logged.
func (m *Monitor) MonitorCall(ctx context.Context, opts model.CallOptions) *model.CallResult {
	decision := m.decide()

	ts := m.now()
	start := time.Now()
	result, err := invoke(ctx, opts.Call)
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	res := &model.CallResult{
		Success:   err == nil,
		Result:    result,
		Err:       err,
		LatencyMs: latencyMs,
		Timestamp: ts,
		Decision:  decision,
	}
	if decision != model.CallLogged {
		return res
	}

	// 工作函数的 ctx 可能已被取消，记录不应随之失败
	recordCtx := context.WithoutCancel(ctx)
	m.record(recordCtx, opts, res)
	m.metrics.observe(opts.ServerName, opts.Operation, res.Success, latencyMs)
	for _, signal := range m.Check(opts.ServerName, opts.Operation, latencyMs, res.Success) {
		m.dispatchAsync(recordCtx, signal)
	}
	return res
}

func (m *Monitor) record(ctx context.Context, opts model.CallOptions, res *model.CallResult) {
	log := m.log.With("server", opts.ServerName, "operation", opts.Operation)

	if err := m.Init(ctx); err != nil {
		m.metrics.logFailure()
		log.Errorw("init store for call log", "error", err)
		return
	}

	row := &model.PerformanceLog{
		ServerName: opts.ServerName,
		Operation:  opts.Operation,
		LatencyMs:  res.LatencyMs,
		Success:    res.Success,
	}
	if res.Err != nil {
		errType := utils.ErrorType(res.Err)
		row.ErrorType = &errType
	}
	if tr, ok := res.Result.(model.TokenReporter); ok {
		tokens := tr.TokensUsed()
		row.TokensUsed = &tokens
	}
	if res.Success || m.conf.Monitoring.ChargeFailedCalls {
		server, err := m.store.GetServer(ctx, opts.ServerName)
		if err != nil {
			m.metrics.logFailure()
			log.Warnw("lookup server cost", "error", err)
		} else if server != nil && server.CostPerCall != nil {
			cost := *server.CostPerCall
			row.CostUSD = &cost
		}
	}
	meta, err := model.EncodeMetadata(opts.Metadata)
	if err != nil {
		m.metrics.logFailure()
		log.Warnw("encode call metadata", "error", err)
	}
	row.Metadata = meta

	if _, err := m.store.AppendLog(ctx, row); err != nil {
		m.metrics.logFailure()
		log.Errorw("append call log", "error", err)
	}
}

// Call is the typed form of MonitorCall.
func Call[T any](ctx context.Context, m *Monitor, serverName, operation string,
	fn func(ctx context.Context) (T, error), metadata map[string]any) (T, *model.CallResult) {
	var zero T
	opts := model.CallOptions{
		ServerName: serverName,
		Operation:  operation,
		Metadata:   metadata,
	}
	if fn != nil {
		opts.Call = func(ctx context.Context) (any, error) {
			return fn(ctx)
		}
	}
	res := m.MonitorCall(ctx, opts)
	if v, ok := res.Result.(T); ok {
		return v, res
	}
	return zero, res
}
