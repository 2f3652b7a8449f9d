package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"AssetRadar/pkg/api"
	"AssetRadar/pkg/app"
	"AssetRadar/pkg/collector"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig(config.GetDefaultConfigPath())
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("初始化日志失败: %v\n", err)
	}
	defer zlog.Sync()

	zlog.Info("启动API服务...", zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, zlog)
	if err != nil {
		zlog.Fatal("初始化服务失败", zap.Error(err))
	}
	if err := a.Start(ctx, true); err != nil {
		stop()
		a.Close()
		zlog.Fatal("启动后台任务失败", zap.Error(err))
	}

	handlers := api.NewHandlers(api.Deps{
		Assets:    a.DB.Asset(),
		Metrics:   a.DB.Metric(),
		Alerts:    a.DB.Alert(),
		Ingester:  a.Pipeline,
		Actions:   a.Pipeline.Evaluator(),
		Trends:    a.Trends,
		Dashboard: a.Dashboard,
		Simulator: collector.NewSimulator(uint64(time.Now().UnixNano())),
		Monitor:   a.Monitor,
	}, zlog.Named("api"))

	server := api.NewServer(cfg, zlog.Named("http"))
	server.SetupRoutes(handlers, a.Hub, a.Registry)

	if err := server.Run(ctx); err != nil {
		zlog.Error("API服务异常退出", zap.Error(err))
	}

	stop()
	if err := a.Close(); err != nil {
		zlog.Warn("释放资源失败", zap.Error(err))
	}
	zlog.Info("API服务已退出")
}
