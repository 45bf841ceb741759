package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorageTypeSQLite     = "sqlite"
	StorageTypePostgreSQL = "postgresql"
)

type ServerConfig struct {
	Name        string   `mapstructure:"name"`
	URL         string   `mapstructure:"url"`
	Category    string   `mapstructure:"category"`
	Version     string   `mapstructure:"version"`
	Enabled     bool     `mapstructure:"enabled"`
	CostPerCall *float64 `mapstructure:"cost_per_call"`
}

type MonitoringConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sample_rate"`
	// 失败调用是否计费，默认与计费端行为保持一致：计费
	ChargeFailedCalls bool `mapstructure:"charge_failed_calls"`
	// 计算分位数时取最近的日志条数
	PercentileWindow int `mapstructure:"percentile_window"`
}

type AlertsConfig struct {
	LatencyThresholdMs   float64       `mapstructure:"latency_threshold_ms"`
	ErrorRateThreshold   float64       `mapstructure:"error_rate_threshold"`
	DailyCostLimitUSD    float64       `mapstructure:"daily_cost_limit_usd"`
	MinCallsForErrorRate int64         `mapstructure:"min_calls_for_error_rate"`
	MuteDuration         time.Duration `mapstructure:"mute_duration"`
	SweepSpec            string        `mapstructure:"sweep_spec"`
	// 除日志外额外投递告警的回调
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	Path          string `mapstructure:"path"`
	DSN           string `mapstructure:"dsn"`
	RetentionDays int    `mapstructure:"retention_days"`
	CleanupSpec   string `mapstructure:"cleanup_spec"`
}

// Config 监控配置
type Config struct {
	Debug      bool             `mapstructure:"debug"`
	ListenPort uint             `mapstructure:"listen_port"`
	LogLevel   string           `mapstructure:"log_level"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Servers    []ServerConfig   `mapstructure:"servers"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("listen_port", 3001)
	v.SetDefault("log_level", "info")

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.sample_rate", 1.0)
	v.SetDefault("monitoring.charge_failed_calls", true)
	v.SetDefault("monitoring.percentile_window", 100)

	v.SetDefault("alerts.latency_threshold_ms", 5000)
	v.SetDefault("alerts.error_rate_threshold", 0.05)
	v.SetDefault("alerts.daily_cost_limit_usd", 10.0)
	v.SetDefault("alerts.min_calls_for_error_rate", 10)
	v.SetDefault("alerts.mute_duration", time.Duration(0))
	v.SetDefault("alerts.sweep_spec", "@every 1m")

	v.SetDefault("storage.type", StorageTypeSQLite)
	v.SetDefault("storage.path", "./mcp-monitor.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.retention_days", 90)
	v.SetDefault("storage.cleanup_spec", "0 30 3 * * *")
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// defaults only contain plain values, decoding them cannot fail
	_ = v.Unmarshal(&c)
	return &c
}

// Read 从给出的文件路径中加载配置，文件中未给出的字段保留默认值
func (c *Config) Read(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MCPMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	var loaded Config
	if err := v.Unmarshal(&loaded); err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	*c = loaded
	return nil
}

func (c *Config) Validate() error {
	if c.Monitoring.SampleRate < 0 || c.Monitoring.SampleRate > 1 {
		return fmt.Errorf("monitoring.sample_rate must be within [0,1], got %v", c.Monitoring.SampleRate)
	}
	if c.Monitoring.PercentileWindow <= 0 {
		return fmt.Errorf("monitoring.percentile_window must be positive, got %d", c.Monitoring.PercentileWindow)
	}
	if c.Alerts.ErrorRateThreshold < 0 || c.Alerts.ErrorRateThreshold > 1 {
		return fmt.Errorf("alerts.error_rate_threshold must be within [0,1], got %v", c.Alerts.ErrorRateThreshold)
	}
	if c.Alerts.LatencyThresholdMs < 0 {
		return fmt.Errorf("alerts.latency_threshold_ms must not be negative, got %v", c.Alerts.LatencyThresholdMs)
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days must not be negative, got %d", c.Storage.RetentionDays)
	}
	switch c.Storage.Type {
	case StorageTypeSQLite, StorageTypePostgreSQL:
	default:
		return fmt.Errorf("unsupported storage.type %q", c.Storage.Type)
	}
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d].name is required", i)
		}
	}
	for i := range c.Alerts.Webhooks {
		if err := c.Alerts.Webhooks[i].Validate(); err != nil {
			return fmt.Errorf("alerts.webhooks[%d]: %w", i, err)
		}
	}
	return nil
}
