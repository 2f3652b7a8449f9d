package trend

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/database"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/stats"
)

const (
	ReasonHealthTrend          = "health_trend"
	ReasonScheduledMaintenance = "scheduled_maintenance"

	// 回归所需的最少健康分记录数
	minHistory = 3
	// 记录数达到该值时置信度不再打折
	fullConfidenceSamples = 10
	maxDaysAhead          = 365
)

// Prediction 预计需要维护的资产
type Prediction struct {
	AssetID       string    `json:"asset_id"`
	AssetName     string    `json:"asset_name"`
	ProjectedDate time.Time `json:"projected_date"`
	Confidence    float64   `json:"confidence"`
	CurrentScore  float64   `json:"current_score"`
	SlopePerDay   float64   `json:"slope_per_day"`
	Reason        string    `json:"reason"`
}

// PredictiveMaintenance 对每个资产近期的健康分做线性外推，
// 列出预计在 daysAhead 天内跌破临界分数或已到计划维护时间的资产。
//
// 这是启发式估计：假设健康分按直线变化，不考虑季节性、突发故障或维护带来的回升。
// Confidence 只是拟合优度 r² 按样本数打折，不代表预测准确率
func (s *Service) PredictiveMaintenance(ctx context.Context, daysAhead int) ([]Prediction, error) {
	if daysAhead <= 0 || daysAhead > maxDaysAhead {
		return nil, apperr.Validation("days_ahead", "must be between 1 and %d", maxDaysAhead)
	}

	assets, err := s.assets.List(ctx, database.AssetFilter{})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	horizon := now.Add(time.Duration(daysAhead) * 24 * time.Hour)

	var (
		mu          sync.Mutex
		predictions = make([]Prediction, 0)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, asset := range assets {
		if asset.Status == model.AssetStatusInactive {
			continue
		}
		g.Go(func() error {
			p, err := s.predict(gctx, asset, now, horizon)
			if err != nil || p == nil {
				return err
			}
			mu.Lock()
			predictions = append(predictions, *p)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(predictions, func(i, j int) bool {
		if predictions[i].ProjectedDate.Equal(predictions[j].ProjectedDate) {
			return predictions[i].AssetID < predictions[j].AssetID
		}
		return predictions[i].ProjectedDate.Before(predictions[j].ProjectedDate)
	})
	return predictions, nil
}

func (s *Service) predict(ctx context.Context, asset *model.Asset, now, horizon time.Time) (*Prediction, error) {
	history, err := s.health.History(ctx, asset.ID, now.Add(-s.cfg.PredictiveLookback))
	if err != nil {
		return nil, err
	}

	var best *Prediction
	if p := s.extrapolate(asset, history, now); p != nil && !p.ProjectedDate.After(horizon) {
		best = p
	}

	if asset.NextMaintenance != nil && !asset.NextMaintenance.After(horizon) {
		scheduled := &Prediction{
			AssetID:       asset.ID,
			AssetName:     asset.Name,
			ProjectedDate: asset.NextMaintenance.UTC(),
			Confidence:    1,
			CurrentScore:  asset.HealthScore,
			Reason:        ReasonScheduledMaintenance,
		}
		if best == nil || scheduled.ProjectedDate.Before(best.ProjectedDate) {
			best = scheduled
		}
	}

	if best != nil {
		s.log.Debug("预测需要维护",
			zap.String("asset_id", asset.ID),
			zap.String("reason", best.Reason),
			zap.Time("projected_date", best.ProjectedDate))
	}
	return best, nil
}

// extrapolate 健康分下降时估算跌破临界分数的日期
func (s *Service) extrapolate(asset *model.Asset, history []*model.HealthRecord, now time.Time) *Prediction {
	if len(history) < minHistory {
		return nil
	}

	origin := history[0].ComputedAt
	xs := make([]float64, len(history))
	ys := make([]float64, len(history))
	for i, rec := range history {
		xs[i] = rec.ComputedAt.Sub(origin).Hours() / 24
		ys[i] = rec.Score
	}

	slope, _, r2, ok := stats.LinearRegression(xs, ys)
	if !ok {
		return nil
	}

	current := asset.HealthScore
	p := &Prediction{
		AssetID:      asset.ID,
		AssetName:    asset.Name,
		CurrentScore: current,
		SlopePerDay:  stats.Round(slope, 3),
		Reason:       ReasonHealthTrend,
		Confidence:   stats.Round(r2*math.Min(1, float64(len(history))/fullConfidenceSamples), 2),
	}

	switch {
	case current <= s.cfg.CriticalHealth:
		p.ProjectedDate = now
	case slope < 0:
		days := (current - s.cfg.CriticalHealth) / -slope
		if days > maxDaysAhead {
			return nil
		}
		p.ProjectedDate = now.Add(time.Duration(days * 24 * float64(time.Hour)))
	default:
		return nil
	}
	return p
}
