package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/ory/graceful"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"github.com/yksanjo/mcp-performance-monitor/cmd/dashboard/controller"
	"github.com/yksanjo/mcp-performance-monitor/model"
	"github.com/yksanjo/mcp-performance-monitor/pkg/logger"
	"github.com/yksanjo/mcp-performance-monitor/pkg/utils"
	"github.com/yksanjo/mcp-performance-monitor/service/monitor"
	"github.com/yksanjo/mcp-performance-monitor/service/store"
)

type DashboardCliParam struct {
	Version    bool   // 当前版本号
	ConfigFile string // 配置文件路径
}

var (
	dashboardCliParam DashboardCliParam
	version           = "dev"
)

func main() {
	flag.CommandLine.ParseErrorsWhitelist.UnknownFlags = true
	flag.BoolVarP(&dashboardCliParam.Version, "version", "v", false, "查看当前版本号")
	flag.StringVarP(&dashboardCliParam.ConfigFile, "config", "c", "data/config.yaml", "配置文件路径")
	flag.Parse()

	if dashboardCliParam.Version {
		fmt.Println(version)
		return
	}

	conf := model.DefaultConfig()
	configPath := dashboardCliParam.ConfigFile
	if !utils.IsFileExists(configPath) {
		configPath = ""
	}
	if err := conf.Read(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(conf.LogLevel, conf.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()
	if configPath == "" {
		log.Warnw("config file not found, using defaults", "path", dashboardCliParam.ConfigFile)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st := store.New(conf.Storage, store.WithDebug(conf.Debug))
	mon := monitor.New(conf, st,
		monitor.WithLogger(log.Named("monitor")),
		monitor.WithRegisterer(registry),
	)
	if err := mon.Init(context.Background()); err != nil {
		log.Fatalw("init monitor", "error", err)
	}
	if err := mon.StartCron(); err != nil {
		log.Fatalw("start cron", "error", err)
	}

	srv := graceful.WithDefaults(&http.Server{
		Addr:    fmt.Sprintf(":%d", conf.ListenPort),
		Handler: controller.ServeWeb(conf, mon, registry, log.Named("http")),
	})

	log.Infow("dashboard listening", "addr", srv.Addr, "storage", conf.Storage.Type)
	if err := graceful.Graceful(srv.ListenAndServe, srv.Shutdown); err != nil {
		log.Errorw("http server", "error", err)
	}
	log.Info("shutting down")
	if err := mon.Close(); err != nil {
		log.Errorw("close monitor", "error", err)
	}
}
