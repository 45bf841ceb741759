package controller

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/yksanjo/mcp-performance-monitor/model"
	"github.com/yksanjo/mcp-performance-monitor/pkg/utils"
	"github.com/yksanjo/mcp-performance-monitor/pkg/websocketx"
)

const streamInterval = time.Second * 2

var upgrader *websocket.Upgrader

func initUpgrader(debug bool) {
	var checkOrigin func(r *http.Request) bool

	// 调试模式下允许来自回环地址的跨域连接
	if debug {
		checkOrigin = func(r *http.Request) bool {
			if checkSameOrigin(r) {
				return true
			}
			origin := r.Header.Get("Origin")
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			host := u.Hostname()
			if host == "localhost" {
				return true
			}
			ip := net.ParseIP(host)
			return ip != nil && ip.IsLoopback()
		}
	}

	upgrader = &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 32768,
		CheckOrigin:     checkOrigin,
	}
}

func equalASCIIFold(s, t string) bool {
	for s != "" && t != "" {
		sr, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		tr, size := utf8.DecodeRuneInString(t)
		t = t[size:]
		if sr == tr {
			continue
		}
		if 'A' <= sr && sr <= 'Z' {
			sr = sr + 'a' - 'A'
		}
		if 'A' <= tr && tr <= 'Z' {
			tr = tr + 'a' - 'A'
		}
		if sr != tr {
			return false
		}
	}
	return s == t
}

func checkSameOrigin(r *http.Request) bool {
	origin := r.Header["Origin"]
	if len(origin) == 0 {
		return true
	}
	u, err := url.Parse(origin[0])
	if err != nil {
		return false
	}
	return equalASCIIFold(u.Host, r.Host)
}

type streamFrame struct {
	Now     int64            `json:"now"`
	Metrics model.AllMetrics `json:"metrics"`
}

// metricsStream 每两秒推送一次全量统计
func (ctl *controller) metricsStream(c *gin.Context) (any, error) {
	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return nil, newWsError("%v", err)
	}
	conn := websocketx.NewConn(raw)
	defer conn.Close()

	// 读取并丢弃客户端消息，连接关闭时结束推送
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()
	count := 0
	for {
		frame, err := ctl.metricsFrame()
		if err != nil {
			ctl.log.Warnw("build metrics frame", "error", err)
		} else if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			break
		}
		count += 1
		if count%4 == 0 {
			if err := conn.Ping(); err != nil {
				break
			}
		}
		select {
		case <-closed:
			return nil, newWsError("")
		case <-ticker.C:
		}
	}
	return nil, newWsError("")
}

var requestGroup singleflight.Group

// metricsFrame 同一时刻的多个连接共享一次查询
func (ctl *controller) metricsFrame() ([]byte, error) {
	v, err, _ := requestGroup.Do("metricsFrame", func() (interface{}, error) {
		aggs, err := ctl.mon.GetAllMetrics(context.Background(), nil)
		if err != nil {
			return nil, err
		}
		return utils.Json.Marshal(streamFrame{
			Now: time.Now().Unix() * 1000,
			Metrics: model.AllMetrics{
				ByServer: aggs,
				Overall:  model.FoldAggregates(aggs),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
