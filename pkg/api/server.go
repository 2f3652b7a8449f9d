package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"AssetRadar/pkg/config"
	"AssetRadar/pkg/websocket"
)

const shutdownTimeout = 10 * time.Second

// Server API服务器
type Server struct {
	router  *gin.Engine
	srv     *http.Server
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewServer 创建新的API服务器
func NewServer(cfg *config.Config, log *zap.Logger) *Server {
	if !cfg.Log.Development && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	limit := rate.Inf
	if cfg.API.IngestRPS > 0 {
		limit = rate.Limit(cfg.API.IngestRPS)
	}

	return &Server{
		router: router,
		srv: &http.Server{
			Addr:         ":" + cfg.API.Port,
			Handler:      router,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
		},
		limiter: rate.NewLimiter(limit, max(cfg.API.IngestBurst, 1)),
		log:     log,
	}
}

// SetupRoutes 设置路由，hub 与 gatherer 可为空
func (s *Server) SetupRoutes(h *Handlers, hub *websocket.Hub, gatherer prometheus.Gatherer) {
	// 健康检查
	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/ready", h.ReadinessCheck)
	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if hub != nil {
		s.router.GET("/ws", func(c *gin.Context) { hub.ServeWS(c.Writer, c.Request) })
	}

	ingest := rateLimit(s.limiter)

	v1 := s.router.Group("/api/v1")
	{
		// 资产与指标
		v1.POST("/assets", h.CreateAsset)
		v1.GET("/assets", h.ListAssets)
		v1.GET("/assets/:id", h.GetAsset)
		v1.POST("/assets/:id/metrics", ingest, h.IngestMetric)
		v1.GET("/assets/:id/metrics", h.ListMetrics)
		v1.POST("/assets/:id/simulate", ingest, h.SimulateAsset)
		v1.POST("/metrics/batch", ingest, h.IngestBatch)

		// 监控
		v1.GET("/monitoring/health/overview", h.HealthOverview)
		v1.GET("/monitoring/realtime", h.Realtime)
		v1.GET("/monitoring/trends/:assetId", h.Trend)
		v1.GET("/monitoring/trends/:assetId/stats", h.TrendStats)
		v1.GET("/monitoring/predictive/maintenance", h.PredictiveMaintenance)

		// 告警
		v1.GET("/alerts", h.ListAlerts)
		v1.GET("/alerts/stats/summary", h.AlertSummary)
		v1.POST("/alerts/bulk/acknowledge", h.BulkAcknowledge)
		v1.GET("/alerts/:id", h.GetAlert)
		v1.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
		v1.POST("/alerts/:id/resolve", h.ResolveAlert)

		// 仪表盘
		v1.GET("/dashboard/stats", h.DashboardStats)
		v1.GET("/dashboard/overview", h.DashboardOverview)
	}
}

// Handler 返回路由，供测试与嵌入使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器，ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API服务器启动", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}
	s.log.Info("服务器已关闭")
	return nil
}
