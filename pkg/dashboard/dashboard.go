package dashboard

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"AssetRadar/pkg/database"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
	"AssetRadar/pkg/stats"
)

const (
	atRiskBelow   = 70
	atRiskLimit   = 10
	recentAlerts  = 10
	refreshBudget = 10 * time.Second
)

// AssetReader 资产汇总查询
type AssetReader interface {
	Stats(ctx context.Context) (database.AssetStats, error)
	CountBy(ctx context.Context, field string) (map[string]int64, error)
	LowestHealth(ctx context.Context, below float64, limit int) ([]*model.Asset, error)
}

// AlertReader 告警汇总查询
type AlertReader interface {
	Counts(ctx context.Context) (database.AlertCounts, error)
	List(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error)
}

// Stats 仪表盘统计
type Stats struct {
	TotalAssets    int64     `json:"total_assets"`
	ActiveAssets   int64     `json:"active_assets"`
	OpenAlerts     int64     `json:"open_alerts"`
	AvgHealthScore float64   `json:"avg_health_score"`
	TotalAlerts    int64     `json:"total_alerts"`
	CriticalAlerts int64     `json:"critical_alerts"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot 某一时刻的仪表盘数据，发布后只读
type Snapshot struct {
	Stats          Stats            `json:"stats"`
	AssetsByType   map[string]int64 `json:"assets_by_type"`
	AssetsByStatus map[string]int64 `json:"assets_by_status"`
	AtRiskAssets   []*model.Asset   `json:"at_risk_assets"`
	RecentAlerts   []*model.Alert   `json:"recent_alerts"`
}

var emptySnapshot = &Snapshot{
	AssetsByType:   map[string]int64{},
	AssetsByStatus: map[string]int64{},
	AtRiskAssets:   []*model.Asset{},
	RecentAlerts:   []*model.Alert{},
}

// Aggregator 维护原子替换的仪表盘快照。读取不加锁，可能略有滞后
type Aggregator struct {
	assets AssetReader
	alerts AlertReader
	snap   atomic.Pointer[Snapshot]
	dirty  chan struct{}
	prom   *monitor.Metrics
	log    *zap.Logger
	now    func() time.Time
}

// NewAggregator 创建聚合器，首次 Refresh 之前返回空快照
func NewAggregator(assets AssetReader, alerts AlertReader, prom *monitor.Metrics, log *zap.Logger) *Aggregator {
	if prom == nil {
		prom = monitor.NewMetrics(nil)
	}
	a := &Aggregator{
		assets: assets,
		alerts: alerts,
		dirty:  make(chan struct{}, 1),
		prom:   prom,
		log:    log,
		now:    time.Now,
	}
	a.snap.Store(emptySnapshot)
	return a
}

// Snapshot 当前快照
func (a *Aggregator) Snapshot() *Snapshot {
	return a.snap.Load()
}

// Stats 当前统计
func (a *Aggregator) Stats() Stats {
	return a.snap.Load().Stats
}

// Refresh 并行查询并发布新快照，失败时保留旧快照
func (a *Aggregator) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, refreshBudget)
	defer cancel()

	var (
		assetStats database.AssetStats
		alertCount database.AlertCounts
		byType     map[string]int64
		byStatus   map[string]int64
		atRisk     []*model.Asset
		recent     []*model.Alert
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		assetStats, err = a.assets.Stats(gctx)
		return err
	})
	g.Go(func() (err error) {
		alertCount, err = a.alerts.Counts(gctx)
		return err
	})
	g.Go(func() (err error) {
		byType, err = a.assets.CountBy(gctx, "asset_type")
		return err
	})
	g.Go(func() (err error) {
		byStatus, err = a.assets.CountBy(gctx, "status")
		return err
	})
	g.Go(func() (err error) {
		atRisk, err = a.assets.LowestHealth(gctx, atRiskBelow, atRiskLimit)
		return err
	})
	g.Go(func() (err error) {
		recent, err = a.alerts.List(gctx, model.AlertFilter{Limit: recentAlerts})
		return err
	})

	if err := g.Wait(); err != nil {
		a.prom.DashboardRefresh.WithLabelValues("error").Inc()
		return fmt.Errorf("刷新仪表盘失败: %w", err)
	}

	if atRisk == nil {
		atRisk = []*model.Asset{}
	}
	if recent == nil {
		recent = []*model.Alert{}
	}
	a.snap.Store(&Snapshot{
		Stats: Stats{
			TotalAssets:    assetStats.Total,
			ActiveAssets:   assetStats.Active,
			OpenAlerts:     alertCount.Open,
			AvgHealthScore: stats.Round(assetStats.AvgHealthScore, 1),
			TotalAlerts:    alertCount.Total,
			CriticalAlerts: alertCount.Critical,
			UpdatedAt:      a.now().UTC(),
		},
		AssetsByType:   byType,
		AssetsByStatus: byStatus,
		AtRiskAssets:   atRisk,
		RecentAlerts:   recent,
	})
	a.prom.DashboardRefresh.WithLabelValues("ok").Inc()
	return nil
}

// MarkDirty 提示快照需要刷新，不阻塞调用方
func (a *Aggregator) MarkDirty() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

// Run 处理刷新提示，debounce 内的多次提示合并为一次刷新
func (a *Aggregator) Run(ctx context.Context, debounce time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.dirty:
		}

		if debounce > 0 {
			timer := time.NewTimer(debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("仪表盘刷新失败", zap.Error(err))
		}
	}
}
