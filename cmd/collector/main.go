package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"AssetRadar/pkg/collector"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/database"
	"AssetRadar/pkg/logger"
	"AssetRadar/pkg/messaging"
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

	zlog.Info("启动数据采集服务...", zap.Duration("interval", cfg.Collector.Interval))

	db, err := database.Open(cfg, zlog.Named("db"))
	if err != nil {
		zlog.Fatal("连接数据库失败", zap.Error(err))
	}
	defer db.Close()

	// 连接NATS
	natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.ClientID+"-collector", zlog.Named("nats"))
	if err != nil {
		zlog.Fatal("连接NATS失败", zap.Error(err))
	}
	defer natsClient.Close()

	seed := cfg.Collector.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	c := collector.NewCollector(
		collector.NewSimulator(seed),
		db.Asset(),
		collector.PublishSink{Publisher: natsClient},
		cfg.Collector.Interval,
		zlog.Named("collector"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Run(ctx)
	zlog.Info("数据采集服务已退出")
}
