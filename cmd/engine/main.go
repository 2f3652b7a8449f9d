package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"AssetRadar/pkg/app"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/logger"
	"AssetRadar/pkg/messaging"
)

const consumerName = "asset-radar-ingest"

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

	zlog.Info("启动指标处理引擎...")

	// 引擎只从 NATS 消费指标
	cfg.NATS.Enabled = true
	cfg.NATS.ClientID += "-engine"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, zlog)
	if err != nil {
		zlog.Fatal("初始化引擎失败", zap.Error(err))
	}
	// 定时任务由 API 进程负责
	if err := a.Start(ctx, false); err != nil {
		stop()
		a.Close()
		zlog.Fatal("启动后台任务失败", zap.Error(err))
	}

	handler := messaging.NewIngestHandler(a.Pipeline, a.NATS, zlog.Named("ingest"))
	if err := a.NATS.Subscribe(messaging.MetricsStream, consumerName, messaging.SubjectMetricsRaw, handler); err != nil {
		stop()
		a.Close()
		zlog.Fatal("订阅原始指标失败", zap.Error(err))
	}
	zlog.Info("已订阅原始指标", zap.String("subject", messaging.SubjectMetricsRaw))

	<-ctx.Done()
	zlog.Info("正在关闭指标处理引擎...")
	if err := a.Close(); err != nil {
		zlog.Warn("释放资源失败", zap.Error(err))
	}
}
