package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"

	"github.com/yksanjo/mcp-performance-monitor/model"
)

const recentLogsInMetrics = 20

func (ctl *controller) listServers(c *gin.Context) ([]*model.MonitoredServer, error) {
	return ctl.mon.GetServers(c)
}

// createServer 登记或更新服务，enabled 缺省为 true
func (ctl *controller) createServer(c *gin.Context) (*model.MonitoredServer, error) {
	var sf model.ServerForm
	if err := c.ShouldBindJSON(&sf); err != nil {
		return nil, newValidationError("%v", err)
	}
	sf.Name = strings.TrimSpace(sf.Name)
	if sf.Name == "" {
		return nil, newValidationError("server name is required")
	}

	var s model.MonitoredServer
	if err := copier.Copy(&s, &sf); err != nil {
		return nil, err
	}
	s.Enabled = sf.Enabled == nil || *sf.Enabled
	if _, err := ctl.mon.RegisterServer(c, &s); err != nil {
		return nil, err
	}
	return ctl.mon.GetServer(c, s.Name)
}

// findServer 按 id 或名称查找
func (ctl *controller) findServer(c *gin.Context, idOrName string) (*model.MonitoredServer, error) {
	servers, err := ctl.mon.GetServers(c)
	if err != nil {
		return nil, err
	}
	id, idErr := strconv.ParseUint(idOrName, 10, 64)
	for _, s := range servers {
		if (idErr == nil && s.ID == id) || s.Name == idOrName {
			return s, nil
		}
	}
	return nil, fmt.Errorf("server %q: %w", idOrName, ErrNotFound)
}

func (ctl *controller) getServer(c *gin.Context) (*model.MonitoredServer, error) {
	return ctl.findServer(c, c.Param("id"))
}

func (ctl *controller) getServerMetrics(c *gin.Context) (*model.ServerMetricsResponse, error) {
	server, err := ctl.findServer(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	tr, err := model.ParseTimeRangePreset(c.Query("timeRange"), ctl.now())
	if err != nil {
		return nil, err
	}
	pm, err := ctl.mon.GetPerformanceMetrics(c, server.Name, tr)
	if err != nil {
		return nil, err
	}
	logs, err := ctl.mon.GetRecentLogs(c, server.Name, recentLogsInMetrics)
	if err != nil {
		return nil, err
	}
	return &model.ServerMetricsResponse{
		PerformanceMetrics: *pm,
		RecentLogs:         logs,
	}, nil
}

func (ctl *controller) compareServers(c *gin.Context) ([]*model.ServerComparison, error) {
	var keys []string
	for _, k := range strings.Split(c.Query("ids"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, newValidationError("no server ids provided")
	}
	tr, err := model.ParseTimeRangePreset(c.Query("timeRange"), ctl.now())
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		server, err := ctl.findServer(c, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		names = append(names, server.Name)
	}
	return ctl.mon.CompareServers(c, names, tr)
}
