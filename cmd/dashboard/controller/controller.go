package controller

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yksanjo/mcp-performance-monitor/model"
	"github.com/yksanjo/mcp-performance-monitor/pkg/logger"
	"github.com/yksanjo/mcp-performance-monitor/pkg/mygin"
	"github.com/yksanjo/mcp-performance-monitor/service/monitor"
)

var ErrNotFound = errors.New("not found")

type controller struct {
	conf *model.Config
	mon  *monitor.Monitor
	log  *logger.Logger
}

// ServeWeb builds the dashboard API. gatherer backs /metrics and may be nil.
func ServeWeb(conf *model.Config, mon *monitor.Monitor, gatherer prometheus.Gatherer, log *logger.Logger) http.Handler {
	if !conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), mygin.RecordPath, mygin.RequestLogger(log))
	if conf.Debug {
		pprof.Register(r)
	}
	ctl := &controller{conf: conf, mon: mon, log: log}
	routers(r, ctl)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	initUpgrader(conf.Debug)
	r.GET("/ws/metrics", commonHandler(ctl.metricsStream))
	return r
}

func routers(r *gin.Engine, ctl *controller) {
	api := r.Group("api")
	{
		api.GET("/health", commonHandler(health))

		api.GET("/servers", commonHandler(ctl.listServers))
		api.POST("/servers", commonHandler(ctl.createServer))
		api.GET("/servers/compare", commonHandler(ctl.compareServers))
		api.GET("/servers/:id", commonHandler(ctl.getServer))
		api.GET("/servers/:id/metrics", commonHandler(ctl.getServerMetrics))

		api.GET("/metrics", commonHandler(ctl.allMetrics))
		api.GET("/logs", commonHandler(ctl.listLogs))
		api.GET("/usage/patterns", commonHandler(ctl.usagePatterns))
		api.POST("/cleanup", commonHandler(ctl.cleanup))
	}
}

type handlerFunc[T any] func(c *gin.Context) (T, error)

// commonHandler 统一处理返回值与错误
func commonHandler[T any](handler handlerFunc[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := handler(c)
		if err != nil {
			var wsErr *wsError
			if errors.As(err, &wsErr) {
				// 连接已被升级为 websocket，不能再写 HTTP 响应
				return
			}
			c.JSON(statusFor(err), model.CommonResponse[any]{
				Success: false,
				Error:   err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, model.CommonResponse[T]{
			Success: true,
			Data:    data,
		})
	}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

func newValidationError(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type wsError struct {
	msg string
}

func (e *wsError) Error() string {
	return e.msg
}

func newWsError(format string, args ...any) error {
	return &wsError{msg: fmt.Sprintf(format, args...)}
}

func statusFor(err error) int {
	var ve *validationError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve), errors.Is(err, model.ErrInvalidTimeRange):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
