package trend

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/cache"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/database"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
	"AssetRadar/pkg/stats"
)

// 超过均值 3 个标准差视为异常点
const anomalySigma = 3.0

// MetricSource 指标区间读取
type MetricSource interface {
	Range(ctx context.Context, assetID string, metricType model.MetricType, start, end time.Time) ([]*model.Metric, error)
}

// AssetSource 资产读取
type AssetSource interface {
	Get(ctx context.Context, id string) (*model.Asset, error)
	List(ctx context.Context, filter database.AssetFilter) ([]*model.Asset, error)
}

// HealthSource 健康分历史读取
type HealthSource interface {
	History(ctx context.Context, assetID string, since time.Time) ([]*model.HealthRecord, error)
}

// Service 趋势聚合与预测性维护。只读，不持有资产锁
type Service struct {
	metrics MetricSource
	assets  AssetSource
	health  HealthSource
	cache   cache.Cache
	group   singleflight.Group
	prom    *monitor.Metrics
	cfg     config.Monitoring
	log     *zap.Logger
	now     func() time.Time
}

// NewService 创建趋势服务
func NewService(metrics MetricSource, assets AssetSource, health HealthSource, c cache.Cache, prom *monitor.Metrics, cfg config.Monitoring, log *zap.Logger) *Service {
	if c == nil {
		c = cache.NewMemory(cfg.TrendCacheTTL)
	}
	if prom == nil {
		prom = monitor.NewMetrics(nil)
	}
	if cfg.TrendTimeout <= 0 {
		cfg.TrendTimeout = 5 * time.Second
	}
	return &Service{
		metrics: metrics,
		assets:  assets,
		health:  health,
		cache:   c,
		prom:    prom,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Trend 按固定桶聚合资产指标。查询受超时约束，同一桶区间的并发请求只查询一次
func (s *Service) Trend(ctx context.Context, assetID, metricType, period string) (*Series, error) {
	p, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	mt := model.MetricType(metricType)
	if !mt.Known() {
		return nil, apperr.Validation("metric_type", "unknown metric type %q", metricType)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TrendTimeout)
	defer cancel()

	if _, err := s.assets.Get(ctx, assetID); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		s.prom.TrendDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
	}()
	return s.load(ctx, assetID, mt, p)
}

func (s *Service) load(ctx context.Context, assetID string, metricType model.MetricType, p Period) (*Series, error) {
	start, end := p.Window(s.now())
	key := fmt.Sprintf("trend:%s:%s:%s:%d", assetID, metricType, p.Name, end.Unix())

	ch := s.group.DoChan(key, func() (any, error) {
		// 共享查询不随首个调用方取消
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TrendTimeout)
		defer cancel()

		var cached []sample
		if ok, err := s.cache.Get(fctx, key, &cached); err != nil {
			s.log.Warn("读取趋势缓存失败", zap.String("key", key), zap.Error(err))
		} else if ok {
			return cached, nil
		}

		metrics, err := s.metrics.Range(fctx, assetID, metricType, start, end)
		if err != nil {
			return nil, err
		}
		samples := make([]sample, len(metrics))
		for i, m := range metrics {
			samples[i] = sample{At: m.Timestamp.UTC(), Value: m.Value}
		}

		if err := s.cache.Set(fctx, key, samples, s.cfg.TrendCacheTTL); err != nil {
			s.log.Warn("写入趋势缓存失败", zap.String("key", key), zap.Error(err))
		}
		return samples, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("趋势查询未完成: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return &Series{
			AssetID:    assetID,
			MetricType: metricType,
			Period:     p,
			Start:      start,
			samples:    res.Val.([]sample),
		}, nil
	}
}

// Anomaly 偏离均值超过 3 个标准差的样本
type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	ZScore    float64   `json:"z_score"`
}

// Summary 周期内的统计摘要
type Summary struct {
	AssetID    string           `json:"asset_id"`
	MetricType model.MetricType `json:"metric_type"`
	Period     string           `json:"period"`
	Count      int              `json:"count"`
	Min        float64          `json:"min"`
	Max        float64          `json:"max"`
	Avg        float64          `json:"avg"`
	Current    float64          `json:"current"`
	StdDev     float64          `json:"std_dev"`
	Anomalies  []Anomaly        `json:"anomalies"`
}

// Stats 周期内原始样本的统计值与异常点，没有样本时返回 InsufficientDataError
func (s *Service) Stats(ctx context.Context, assetID, metricType, period string) (*Summary, error) {
	series, err := s.Trend(ctx, assetID, metricType, period)
	if err != nil {
		return nil, err
	}
	if series.Len() == 0 {
		return nil, &apperr.InsufficientDataError{AssetID: assetID, Have: 0, Need: 1}
	}

	values := series.Values()
	mean := stats.Mean(values)
	sd := stats.StdDev(values)
	lo, hi := stats.MinMax(values)

	summary := &Summary{
		AssetID:    assetID,
		MetricType: series.MetricType,
		Period:     series.Period.Name,
		Count:      len(values),
		Min:        lo,
		Max:        hi,
		Avg:        stats.Round(mean, 4),
		Current:    values[len(values)-1],
		StdDev:     stats.Round(sd, 4),
		Anomalies:  []Anomaly{},
	}
	if sd == 0 {
		return summary, nil
	}
	for _, smp := range series.samples {
		z := (smp.Value - mean) / sd
		if math.Abs(z) > anomalySigma {
			summary.Anomalies = append(summary.Anomalies, Anomaly{
				Timestamp: smp.At,
				Value:     smp.Value,
				ZScore:    stats.Round(z, 2),
			})
		}
	}
	return summary, nil
}
