package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"AssetRadar/pkg/config"
	"AssetRadar/pkg/logger"
	"AssetRadar/pkg/monitor"
)

const (
	monitorPort   = "8081"
	checkInterval = 30 * time.Second
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

	zlog.Info("启动监控服务...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 创建监控系统
	mon := monitor.NewMonitor(func(component, status, message string) {
		zlog.Warn("组件状态变更", zap.String("component", component), zap.String("status", status), zap.String("message", message))
	})

	apiBase := fmt.Sprintf("http://localhost:%s", cfg.API.Port)
	mon.RegisterComponent("api-service")
	mon.RegisterComponent("api-ready")
	mon.StartChecking(ctx, "api-service", checkInterval, mon.HTTPCheck(apiBase+"/health"), zlog)
	mon.StartChecking(ctx, "api-ready", checkInterval, mon.HTTPCheck(apiBase+"/ready"), zlog)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ready": mon.Ready(), "components": mon.GetAllStatus()})
	})

	srv := &http.Server{Addr: ":" + monitorPort, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zlog.Info("监控服务启动", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zlog.Fatal("启动HTTP服务器失败", zap.Error(err))
	}
	zlog.Info("监控服务已退出")
}
