package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yksanjo/mcp-performance-monitor/model"
)

const DefaultQueryLimit = 1000

// LogFilter 查询条件，零值字段不参与过滤，各条件之间为 AND
type LogFilter struct {
	ServerName string
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// Store 保存被监控服务与调用日志
type Store struct {
	conf model.StorageConfig
	now  func() time.Time

	lock  sync.RWMutex
	db    *gorm.DB
	debug bool
}

type Option func(*Store)

// WithClock overrides the clock used to stamp logs and compute retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithDebug logs every SQL statement.
func WithDebug(debug bool) Option {
	return func(s *Store) {
		s.debug = debug
	}
}

func New(conf model.StorageConfig, opts ...Option) *Store {
	s := &Store{
		conf: conf,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) dialector() (gorm.Dialector, error) {
	switch s.conf.Type {
	case "", model.StorageTypeSQLite:
		dsn := s.conf.DSN
		if dsn == "" {
			dsn = s.conf.Path
			if !strings.Contains(dsn, "?") {
				dsn += "?_journal_mode=WAL&_busy_timeout=5000"
			}
		}
		return sqlite.Open(dsn), nil
	case model.StorageTypePostgreSQL:
		return postgres.Open(s.conf.DSN), nil
	}
	return nil, fmt.Errorf("unsupported storage type %q", s.conf.Type)
}

// Init 打开数据库并建表建索引，重复调用不做任何事
func (s *Store) Init(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.db != nil {
		return nil
	}

	dialector, err := s.dialector()
	if err != nil {
		return err
	}
	gormConf := &gorm.Config{
		CreateBatchSize: 200,
		Logger:          gormlogger.Default.LogMode(gormlogger.Silent),
	}
	db, err := gorm.Open(dialector, gormConf)
	if err != nil {
		return persistenceError("open", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return persistenceError("open", err)
	}
	if s.conf.Type == "" || s.conf.Type == model.StorageTypeSQLite {
		// sqlite 只允许单写，所有操作经由同一连接串行执行
		sqlDB.SetMaxOpenConns(1)
	}
	if s.debug {
		db = db.Debug()
	}
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(&model.MonitoredServer{}, &model.PerformanceLog{}); err != nil {
		sqlDB.Close()
		return persistenceError("migrate", err)
	}
	s.db = db.WithContext(context.Background())
	return nil
}

// Close releases the database handle. Closing twice is a no-op.
func (s *Store) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return persistenceError("close", err)
	}
	return persistenceError("close", sqlDB.Close())
}

// conn returns a session bound to ctx while holding the read lock, so Close waits for
// in-flight operations.
func (s *Store) conn(ctx context.Context) (*gorm.DB, func(), error) {
	s.lock.RLock()
	if s.db == nil {
		s.lock.RUnlock()
		return nil, nil, ErrStoreUninitialized
	}
	return s.db.WithContext(ctx), s.lock.RUnlock, nil
}

// RegisterServer 按名称 upsert，覆盖描述与计费字段，保留 id 与 added_at
func (s *Store) RegisterServer(ctx context.Context, server *model.MonitoredServer) (uint64, error) {
	db, release, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	row := *server
	row.ID = 0
	row.AddedAt = s.now().UTC()
	var id uint64
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "category", "version", "enabled", "cost_per_call"}),
		}).Create(&row).Error; err != nil {
			return err
		}
		var stored model.MonitoredServer
		if err := tx.Select("id").Where("name = ?", row.Name).Take(&stored).Error; err != nil {
			return err
		}
		id = stored.ID
		return nil
	})
	if err != nil {
		return 0, persistenceError("register server", err)
	}
	server.ID = id
	return id, nil
}

// GetServer returns nil without error when no server carries that name.
func (s *Store) GetServer(ctx context.Context, name string) (*model.MonitoredServer, error) {
	db, release, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var server model.MonitoredServer
	err = db.Where("name = ?", name).Take(&server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("get server", err)
	}
	return &server, nil
}

func (s *Store) GetAllServers(ctx context.Context) ([]*model.MonitoredServer, error) {
	db, release, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var servers []*model.MonitoredServer
	if err := db.Order("name").Find(&servers).Error; err != nil {
		return nil, persistenceError("list servers", err)
	}
	return servers, nil
}

// AppendLog 写入一条调用记录，时间戳由存储端生成
func (s *Store) AppendLog(ctx context.Context, log *model.PerformanceLog) (uint64, error) {
	return s.AppendLogAt(ctx, log, s.now())
}

// AppendLogAt writes a log with an explicit timestamp. Bulk loaders use it to backfill history.
func (s *Store) AppendLogAt(ctx context.Context, log *model.PerformanceLog, at time.Time) (uint64, error) {
	db, release, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	row := *log
	row.ID = 0
	row.Timestamp = at.UTC()
	if err := db.Create(&row).Error; err != nil {
		return 0, persistenceError("append log", err)
	}
	log.ID = row.ID
	log.Timestamp = row.Timestamp
	return row.ID, nil
}

func applyFilter(db *gorm.DB, f LogFilter) *gorm.DB {
	if f.ServerName != "" {
		db = db.Where("server_name = ?", f.ServerName)
	}
	if f.Start != nil {
		db = db.Where("timestamp >= ?", f.Start.UTC())
	}
	if f.End != nil {
		db = db.Where("timestamp <= ?", f.End.UTC())
	}
	return db
}

// QueryLogs 按时间倒序返回符合条件的日志
func (s *Store) QueryLogs(ctx context.Context, f LogFilter) ([]*model.PerformanceLog, error) {
	db, release, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	var logs []*model.PerformanceLog
	q := applyFilter(db.Model(&model.PerformanceLog{}), f).Order("timestamp DESC").Order("id DESC").Limit(limit)
	if err := q.Find(&logs).Error; err != nil {
		return nil, persistenceError("query logs", err)
	}
	return logs, nil
}

type aggregateRow struct {
	ServerName      string  `gorm:"column:server_name"`
	TotalCalls      int64   `gorm:"column:total_calls"`
	SuccessfulCalls int64   `gorm:"column:successful_calls"`
	AvgLatencyMs    float64 `gorm:"column:avg_latency_ms"`
	MinLatencyMs    float64 `gorm:"column:min_latency_ms"`
	MaxLatencyMs    float64 `gorm:"column:max_latency_ms"`
	TotalCostUSD    float64 `gorm:"column:total_cost_usd"`
}

// QueryAggregates 按服务分组统计，没有数据的服务不会出现在结果中
func (s *Store) QueryAggregates(ctx context.Context, f LogFilter) ([]*model.Aggregate, error) {
	db, release, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var rows []aggregateRow
	q := applyFilter(db.Model(&model.PerformanceLog{}), f).
		Select(`server_name,
			COUNT(*) AS total_calls,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) AS successful_calls,
			AVG(latency_ms) AS avg_latency_ms,
			MIN(latency_ms) AS min_latency_ms,
			MAX(latency_ms) AS max_latency_ms,
			COALESCE(SUM(cost_usd), 0) AS total_cost_usd`).
		Group("server_name").
		Order("server_name")
	if err := q.Scan(&rows).Error; err != nil {
		return nil, persistenceError("query aggregates", err)
	}

	aggs := make([]*model.Aggregate, 0, len(rows))
	for _, r := range rows {
		aggs = append(aggs, model.NewAggregate(r.ServerName, r.TotalCalls, r.SuccessfulCalls,
			r.AvgLatencyMs, r.MinLatencyMs, r.MaxLatencyMs, r.TotalCostUSD))
	}
	return aggs, nil
}

// QueryOperationCounts groups the filtered logs by operation, most frequent first.
func (s *Store) QueryOperationCounts(ctx context.Context, f LogFilter) ([]*model.OperationCount, error) {
	db, release, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var counts []*model.OperationCount
	q := applyFilter(db.Model(&model.PerformanceLog{}), f).
		Select("operation, COUNT(*) AS count").
		Group("operation").
		Order("count DESC").
		Order("operation")
	if err := q.Scan(&counts).Error; err != nil {
		return nil, persistenceError("query operation counts", err)
	}
	return counts, nil
}

// PurgeOlderThan 删除早于 now-retentionDays 的日志，返回删除条数
func (s *Store) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	db, release, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	res := db.Where("timestamp < ?", cutoff).Delete(&model.PerformanceLog{})
	if res.Error != nil {
		return 0, persistenceError("purge logs", res.Error)
	}
	return res.RowsAffected, nil
}
