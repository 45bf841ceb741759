package monitor

import (
	"context"

	"github.com/robfig/cron/v3"
)

// StartCron 注册日志清理与告警巡检任务，重复调用不会重复注册
func (m *Monitor) StartCron() error {
	m.cronLock.Lock()
	defer m.cronLock.Unlock()
	if m.cron != nil {
		return nil
	}

	c := cron.New(cron.WithSeconds())
	if spec := m.conf.Storage.CleanupSpec; spec != "" {
		if _, err := c.AddFunc(spec, func() {
			if _, err := m.Cleanup(context.Background(), 0); err != nil {
				m.log.Errorw("scheduled cleanup", "error", err)
			}
		}); err != nil {
			return err
		}
	}
	if spec := m.conf.Alerts.SweepSpec; spec != "" {
		if _, err := c.AddFunc(spec, func() {
			if _, err := m.Sweep(context.Background()); err != nil {
				m.log.Errorw("scheduled alert sweep", "error", err)
			}
		}); err != nil {
			return err
		}
	}
	c.Start()
	m.cron = c
	return nil
}

// StopCron waits for running jobs to finish.
func (m *Monitor) StopCron() {
	m.cronLock.Lock()
	defer m.cronLock.Unlock()
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.cron = nil
}
