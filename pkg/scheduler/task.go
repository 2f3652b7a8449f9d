package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"AssetRadar/pkg/config"
	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/messaging"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/trend"
)

const (
	jobTimeout       = 5 * time.Minute
	predictiveWindow = 7 // 天
)

// Dashboard 仪表盘快照刷新
type Dashboard interface {
	Refresh(ctx context.Context) error
}

// MaintenanceChecker 单资产计划维护评估
type MaintenanceChecker interface {
	CheckMaintenance(ctx context.Context, assetID string) (*engine.Result, error)
}

// AssetLister 设置了计划维护的资产
type AssetLister interface {
	WithScheduledMaintenance(ctx context.Context) ([]*model.Asset, error)
}

// AlertLister 告警查询
type AlertLister interface {
	List(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error)
}

// MetricPruner 过期指标清理
type MetricPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Predictor 预测性维护
type Predictor interface {
	PredictiveMaintenance(ctx context.Context, daysAhead int) ([]trend.Prediction, error)
}

// Deps 调度任务依赖，Publisher 可为空
type Deps struct {
	Dashboard   Dashboard
	Maintenance MaintenanceChecker
	Assets      AssetLister
	Alerts      AlertLister
	Metrics     MetricPruner
	Predictor   Predictor
	Publisher   messaging.Publisher
}

// Scheduler 任务调度器
type Scheduler struct {
	cron   *cron.Cron
	deps   Deps
	cfg    config.Monitoring
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewScheduler 创建任务调度器
func NewScheduler(deps Deps, cfg config.Monitoring, log *zap.Logger) *Scheduler {
	cronLog := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		deps:   deps,
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Start 注册并启动定时任务
func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{"@every 15s", "dashboard_refresh", s.RefreshDashboard},
		{"@hourly", "maintenance_check", s.CheckMaintenance},
		{"@daily", "metric_retention", s.PruneMetrics},
		{"@every 6h", "predictive_scan", s.ScanPredictive},
	}

	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.fn)); err != nil {
			return fmt.Errorf("注册任务 %s 失败: %w", job.name, err)
		}
	}

	s.cron.Start()
	s.log.Info("调度器已启动", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop 停止调度器并等待运行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("调度器已停止")
}

func (s *Scheduler) wrap(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Error("定时任务失败", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("定时任务完成", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	}
}

// RefreshDashboard 刷新仪表盘快照
func (s *Scheduler) RefreshDashboard(ctx context.Context) error {
	return s.deps.Dashboard.Refresh(ctx)
}

// CheckMaintenance 评估所有设置了计划维护或仍有未解决维护告警的资产
func (s *Scheduler) CheckMaintenance(ctx context.Context) error {
	assets, err := s.deps.Assets.WithScheduledMaintenance(ctx)
	if err != nil {
		return fmt.Errorf("查询计划维护资产失败: %w", err)
	}

	ids := make(map[string]struct{}, len(assets))
	order := make([]string, 0, len(assets))
	add := func(id string) {
		if _, ok := ids[id]; !ok {
			ids[id] = struct{}{}
			order = append(order, id)
		}
	}
	for _, a := range assets {
		add(a.ID)
	}

	// 计划被取消的资产需要自动解决遗留告警
	for _, status := range []model.AlertStatus{model.AlertStatusOpen, model.AlertStatusAcknowledged} {
		alerts, err := s.deps.Alerts.List(ctx, model.AlertFilter{Status: status})
		if err != nil {
			return fmt.Errorf("查询维护告警失败: %w", err)
		}
		for _, a := range alerts {
			if a.Condition == model.ConditionMaintenanceDue {
				add(a.AssetID)
			}
		}
	}

	changed := 0
	for _, id := range order {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := s.deps.Maintenance.CheckMaintenance(ctx, id)
		if err != nil {
			s.log.Warn("计划维护检查失败", zap.String("asset_id", id), zap.Error(err))
			continue
		}
		if result.Action != "" {
			changed++
		}
	}

	s.log.Info("计划维护检查完成", zap.Int("assets", len(order)), zap.Int("changed", changed))
	return nil
}

// PruneMetrics 删除超过保留天数的指标
func (s *Scheduler) PruneMetrics(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.deps.Metrics.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("清理过期指标失败: %w", err)
	}
	s.log.Info("过期指标已清理", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	return nil
}

// ScanPredictive 记录并发布预计需要维护的资产
func (s *Scheduler) ScanPredictive(ctx context.Context) error {
	predictions, err := s.deps.Predictor.PredictiveMaintenance(ctx, predictiveWindow)
	if err != nil {
		return fmt.Errorf("预测性维护扫描失败: %w", err)
	}

	for _, p := range predictions {
		s.log.Info("预计需要维护",
			zap.String("asset_id", p.AssetID),
			zap.String("asset_name", p.AssetName),
			zap.String("reason", p.Reason),
			zap.Time("projected_date", p.ProjectedDate),
			zap.Float64("confidence", p.Confidence))
	}

	if s.deps.Publisher != nil && len(predictions) > 0 {
		if err := s.deps.Publisher.Publish(ctx, messaging.SubjectPredictive, predictions); err != nil {
			s.log.Warn("发布预测结果失败", zap.Error(err))
		}
	}
	return nil
}
