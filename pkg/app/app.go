// Package app 组装各进程共用的组件
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"AssetRadar/pkg/cache"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/dashboard"
	"AssetRadar/pkg/database"
	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/messaging"
	"AssetRadar/pkg/monitor"
	"AssetRadar/pkg/scheduler"
	"AssetRadar/pkg/trend"
	"AssetRadar/pkg/websocket"
)

const (
	dashboardDebounce   = 2 * time.Second
	healthCheckInterval = 30 * time.Second
)

// App 进程内共享的组件
type App struct {
	Config    *config.Config
	Log       *zap.Logger
	DB        *database.DB
	Registry  *prometheus.Registry
	Metrics   *monitor.Metrics
	Cache     cache.Cache
	Hub       *websocket.Hub
	NATS      *messaging.NATSClient // 未启用时为 nil
	Events    *messaging.EventPublisher
	Pipeline  *engine.Pipeline
	Trends    *trend.Service
	Dashboard *dashboard.Aggregator
	Monitor   *monitor.Monitor

	scheduler *scheduler.Scheduler
	wg        sync.WaitGroup
}

// New 连接数据库、缓存与 NATS 并组装流水线
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, err := database.Open(cfg, log.Named("db"))
	if err != nil {
		return nil, err
	}
	a.DB = db
	if err := db.Migrate(); err != nil {
		a.Close()
		return nil, err
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = monitor.NewMetrics(a.Registry)

	if a.Cache, err = cache.New(cfg, log.Named("cache")); err != nil {
		a.Close()
		return nil, err
	}

	rules, err := engine.RulesFromConfig(cfg.Monitoring.Thresholds)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("加载阈值规则失败: %w", err)
	}
	ruleSet := engine.NewRuleSet(rules)
	log.Info("阈值规则已加载", zap.Int("rules", ruleSet.Len()))

	a.Hub = websocket.NewHub(a.Metrics, log.Named("ws"))
	notifiers := engine.Notifiers{a.Hub}

	if cfg.NATS.Enabled {
		a.NATS, err = messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.ClientID, log.Named("nats"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Events = messaging.NewEventPublisher(a.NATS, log.Named("events"))
		notifiers = append(notifiers, a.Events)
	}

	evaluator := engine.NewEvaluator(db.Alert(), ruleSet, notifiers, a.Metrics, log.Named("evaluator"))
	scorer := engine.NewScorer(ruleSet, cfg.Monitoring.MinSamples)
	a.Pipeline = engine.NewPipeline(db.Asset(), db.Metric(), evaluator, scorer, notifiers, a.Metrics, cfg.Monitoring, log.Named("pipeline"))
	a.Trends = trend.NewService(db.Metric(), db.Asset(), db.Health(), a.Cache, a.Metrics, cfg.Monitoring, log.Named("trend"))
	a.Dashboard = dashboard.NewAggregator(db.Asset(), db.Alert(), a.Metrics, log.Named("dashboard"))
	a.Pipeline.OnChange(a.Dashboard.MarkDirty)

	a.Monitor = monitor.NewMonitor(func(component, status, message string) {
		log.Warn("组件状态异常", zap.String("component", component), zap.String("status", status), zap.String("message", message))
	})
	a.Monitor.RegisterComponent("database")
	if a.NATS != nil {
		a.Monitor.RegisterComponent("nats")
	}
	return a, nil
}

// Start 启动推送、事件转发、仪表盘刷新与组件探活，ctx 取消后全部退出。
// withScheduler 为 true 时同时启动定时任务，多进程部署时只应有一个进程启用
func (a *App) Start(ctx context.Context, withScheduler bool) error {
	a.goRun(func() { a.Hub.Run(ctx) })
	if a.Events != nil {
		a.goRun(func() { a.Events.Run(ctx) })
	}
	a.goRun(func() { a.Dashboard.Run(ctx, dashboardDebounce) })

	if err := a.Dashboard.Refresh(ctx); err != nil {
		a.Log.Warn("初始化仪表盘快照失败", zap.Error(err))
	}

	a.Monitor.StartChecking(ctx, "database", healthCheckInterval, a.DB.Ping, a.Log)
	if a.NATS != nil {
		a.Monitor.StartChecking(ctx, "nats", healthCheckInterval, a.NATS.Ping, a.Log)
	}

	if !withScheduler {
		return nil
	}
	deps := scheduler.Deps{
		Dashboard:   a.Dashboard,
		Maintenance: a.Pipeline,
		Assets:      a.DB.Asset(),
		Alerts:      a.DB.Alert(),
		Metrics:     a.DB.Metric(),
		Predictor:   a.Trends,
	}
	if a.NATS != nil {
		deps.Publisher = a.NATS
	}
	a.scheduler = scheduler.NewScheduler(deps, a.Config.Monitoring, a.Log.Named("scheduler"))
	return a.scheduler.Start()
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Close 停止后台任务并释放连接。调用前应先取消 Start 的 ctx
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.wg.Wait()

	var errs []error
	if a.NATS != nil {
		errs = append(errs, a.NATS.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
