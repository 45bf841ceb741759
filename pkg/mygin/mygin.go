package mygin

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yksanjo/mcp-performance-monitor/model"
	"github.com/yksanjo/mcp-performance-monitor/pkg/logger"
)

const CtxKeyMatchedPath = "MatchedPath"

// RecordPath 记录去掉参数值后的路由，供日志按路由聚合
func RecordPath(c *gin.Context) {
	url := c.Request.URL.Path
	for _, p := range c.Params {
		url = strings.Replace(url, p.Value, ":"+p.Key, 1)
	}
	c.Set(CtxKeyMatchedPath, url)
	c.Set(model.CtxKeyRequestStart, time.Now())
}

// RequestLogger writes one access log line per request after the handler returns.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		start, ok := c.Get(model.CtxKeyRequestStart)
		if !ok {
			return
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.GetString(CtxKeyMatchedPath),
			"status", c.Writer.Status(),
			"latency_ms", float64(time.Since(start.(time.Time))) / float64(time.Millisecond),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= 500 {
			log.Warnw("request", fields...)
			return
		}
		log.Debugw("request", fields...)
	}
}
