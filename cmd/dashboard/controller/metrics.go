package controller

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yksanjo/mcp-performance-monitor/model"
)

const defaultLogsLimit = 100

type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type cleanupResult struct {
	RetentionDays int   `json:"retention_days"`
	Removed       int64 `json:"removed"`
}

func (ctl *controller) now() time.Time {
	return time.Now()
}

func health(c *gin.Context) (*healthStatus, error) {
	return &healthStatus{Status: "ok", Timestamp: time.Now().UTC()}, nil
}

func (ctl *controller) allMetrics(c *gin.Context) (*model.AllMetrics, error) {
	tr, err := model.ParseTimeRangePreset(c.Query("timeRange"), ctl.now())
	if err != nil {
		return nil, err
	}
	aggs, err := ctl.mon.GetAllMetrics(c, tr)
	if err != nil {
		return nil, err
	}
	return &model.AllMetrics{
		ByServer: aggs,
		Overall:  model.FoldAggregates(aggs),
	}, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newValidationError("invalid %s: %q", key, raw)
	}
	return v, nil
}

func (ctl *controller) listLogs(c *gin.Context) ([]*model.PerformanceLog, error) {
	limit, err := queryInt(c, "limit", defaultLogsLimit)
	if err != nil {
		return nil, err
	}
	return ctl.mon.GetRecentLogs(c, c.Query("server"), limit)
}

func (ctl *controller) usagePatterns(c *gin.Context) (*model.UsagePatterns, error) {
	return ctl.mon.GetUsagePatterns(c)
}

// cleanup 手动触发日志清理，未指定天数时使用配置中的保留天数
func (ctl *controller) cleanup(c *gin.Context) (*cleanupResult, error) {
	days, err := queryInt(c, "retentionDays", 0)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = ctl.conf.Storage.RetentionDays
	}
	removed, err := ctl.mon.Cleanup(c, days)
	if err != nil {
		return nil, err
	}
	return &cleanupResult{RetentionDays: days, Removed: removed}, nil
}
