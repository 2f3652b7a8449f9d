package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
)

// 允许的时钟偏差，超过则视为未来时间
const maxClockSkew = 5 * time.Minute

// AssetStore 资产读取与健康分写入
type AssetStore interface {
	Get(ctx context.Context, id string) (*model.Asset, error)
	UpdateHealth(ctx context.Context, id string, score float64, status model.AssetStatus, at time.Time) error
}

// MetricStore 指标持久化
type MetricStore interface {
	Save(ctx context.Context, metric *model.Metric) error
	Window(ctx context.Context, assetID string, types []model.MetricType, limit int, since *time.Time) ([]*model.Metric, error)
	Previous(ctx context.Context, metric *model.Metric) (*model.Metric, error)
	HasNewer(ctx context.Context, metric *model.Metric) (bool, error)
}

// MetricInput 待写入的原始指标
type MetricInput struct {
	AssetID    string         `json:"asset_id"`
	MetricType string         `json:"metric_type"`
	Value      *float64       `json:"value"`
	Unit       string         `json:"unit"`
	Timestamp  *time.Time     `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	// Attempt 消息重投次数，不落库
	Attempt int `json:"attempt,omitempty"`
}

// BatchResult 批量写入中单条记录的结果
type BatchResult struct {
	Index     int           `json:"index"`
	Success   bool          `json:"success"`
	Metric    *model.Metric `json:"metric,omitempty"`
	Error     string        `json:"error,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
}

// Pipeline 指标写入流水线：持久化 -> 阈值评估 -> 健康分重算 -> 推送。
// 同一资产的处理串行，不同资产完全并行
type Pipeline struct {
	assets    AssetStore
	metrics   MetricStore
	evaluator *Evaluator
	scorer    *Scorer
	locks     *KeyedMutex
	notifier  Notifier
	prom      *monitor.Metrics
	log       *zap.Logger
	cfg       config.Monitoring
	onChange  func()
	now       func() time.Time
}

// NewPipeline 创建写入流水线
func NewPipeline(
	assets AssetStore,
	metrics MetricStore,
	evaluator *Evaluator,
	scorer *Scorer,
	notifier Notifier,
	prom *monitor.Metrics,
	cfg config.Monitoring,
	log *zap.Logger,
) *Pipeline {
	if notifier == nil {
		notifier = Notifiers{}
	}
	if prom == nil {
		prom = monitor.NewMetrics(nil)
	}
	return &Pipeline{
		assets:    assets,
		metrics:   metrics,
		evaluator: evaluator,
		scorer:    scorer,
		locks:     NewKeyedMutex(),
		notifier:  notifier,
		prom:      prom,
		log:       log,
		cfg:       cfg,
		onChange:  func() {},
		now:       time.Now,
	}
}

// OnChange 注册写入完成后的回调，回调不得阻塞
func (p *Pipeline) OnChange(fn func()) {
	p.onChange = fn
}

// Evaluator 返回告警评估器
func (p *Pipeline) Evaluator() *Evaluator {
	return p.evaluator
}

// Ingest 校验并写入一条指标，返回持久化后的记录
func (p *Pipeline) Ingest(ctx context.Context, in MetricInput) (*model.Metric, error) {
	metric, err := p.normalize(in)
	if err != nil {
		p.prom.IngestFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	unlock := p.locks.Lock(metric.AssetID)
	defer unlock()
	if metric.Timestamp.IsZero() {
		metric.Timestamp = p.now().UTC()
	}

	asset, err := p.assets.Get(ctx, metric.AssetID)
	if err != nil {
		if apperr.IsNotFound(err) {
			p.prom.IngestFailures.WithLabelValues("unknown_asset").Inc()
			return nil, &apperr.ValidationError{Field: "asset_id", Message: "unknown asset " + metric.AssetID, Err: err}
		}
		p.prom.IngestFailures.WithLabelValues("storage").Inc()
		return nil, err
	}

	if err := p.metrics.Save(ctx, metric); err != nil {
		p.prom.IngestFailures.WithLabelValues("storage").Inc()
		return nil, err
	}
	p.prom.MetricsIngested.WithLabelValues(string(metric.MetricType)).Inc()

	// 指标已落库，后续步骤失败只记录日志
	if err := p.evaluateMetric(ctx, asset, metric); err != nil {
		p.log.Error("指标阈值评估失败",
			zap.String("asset_id", asset.ID), zap.String("metric_id", metric.ID), zap.Error(err))
	}

	update := model.MetricUpdate{
		AssetID:    asset.ID,
		MetricID:   metric.ID,
		MetricType: metric.MetricType,
		Value:      metric.Value,
		Unit:       metric.Unit,
		Timestamp:  metric.Timestamp,
	}
	score, err := p.recompute(ctx, asset)
	switch {
	case err == nil:
		update.HealthScore = &score
	case apperr.IsInsufficientData(err):
		p.log.Debug("样本不足，保留原健康分", zap.String("asset_id", asset.ID), zap.Error(err))
	default:
		p.log.Error("健康分重算失败", zap.String("asset_id", asset.ID), zap.Error(err))
	}

	p.notifier.Notify(ctx, model.Event{Type: model.EventMetricUpdate, Data: update})
	p.onChange()
	return metric, nil
}

// IngestBatch 批量写入。每条记录独立成败，结果与输入顺序一致。
// 同一资产的记录按输入顺序串行，不同资产并发处理
func (p *Pipeline) IngestBatch(ctx context.Context, inputs []MetricInput) []BatchResult {
	results := make([]BatchResult, len(inputs))

	groups := make(map[string][]int)
	order := make([]string, 0)
	for i, in := range inputs {
		key := strings.TrimSpace(in.AssetID)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, key := range order {
		indexes := groups[key]
		g.Go(func() error {
			for _, i := range indexes {
				metric, err := p.Ingest(ctx, inputs[i])
				if err != nil {
					results[i] = BatchResult{Index: i, Success: false, Error: err.Error(), Retryable: IsRetryable(err)}
					continue
				}
				results[i] = BatchResult{Index: i, Success: true, Metric: metric}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Recompute 重新计算资产健康分。样本不足时返回 InsufficientDataError 且不修改原分数
func (p *Pipeline) Recompute(ctx context.Context, assetID string) (float64, error) {
	unlock := p.locks.Lock(assetID)
	defer unlock()

	asset, err := p.assets.Get(ctx, assetID)
	if err != nil {
		return 0, err
	}

	score, err := p.recompute(ctx, asset)
	if err == nil {
		p.onChange()
	}
	return score, err
}

// CheckMaintenance 在资产锁内评估计划维护条件
func (p *Pipeline) CheckMaintenance(ctx context.Context, assetID string) (*Result, error) {
	unlock := p.locks.Lock(assetID)
	defer unlock()

	asset, err := p.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}

	result, err := p.evaluator.EvaluateMaintenance(ctx, asset, p.cfg.MaintenanceLead)
	if err == nil && result.Action != "" {
		p.onChange()
	}
	return result, err
}

// evaluateMetric 只按同类指标的最新读数评估；迟到的旧读数已落库但不改变告警状态
func (p *Pipeline) evaluateMetric(ctx context.Context, asset *model.Asset, metric *model.Metric) error {
	stale, err := p.metrics.HasNewer(ctx, metric)
	if err != nil {
		return err
	}
	if stale {
		p.log.Debug("迟到读数不参与阈值评估",
			zap.String("asset_id", asset.ID), zap.String("metric_type", string(metric.MetricType)),
			zap.Time("timestamp", metric.Timestamp))
		return nil
	}

	obs := Observation{
		MetricType: metric.MetricType,
		Value:      metric.Value,
		Unit:       metric.Unit,
		At:         metric.Timestamp,
	}
	if metric.MetricType.IsPrice() {
		prev, err := p.metrics.Previous(ctx, metric)
		if err != nil {
			return err
		}
		if prev != nil {
			obs.Previous = &prev.Value
		}
	}
	_, err = p.evaluator.Evaluate(ctx, asset, obs)
	return err
}

// recompute 调用方需持有资产锁
func (p *Pipeline) recompute(ctx context.Context, asset *model.Asset) (float64, error) {
	start := time.Now()
	defer func() {
		p.prom.RecomputeDuration.Observe(time.Since(start).Seconds())
	}()

	limit := p.cfg.WindowSize
	var since *time.Time
	if p.cfg.WindowPolicy == "duration" {
		s := p.now().Add(-p.cfg.WindowDuration)
		since = &s
		limit = p.cfg.WindowSize * 20
	}

	window, err := p.metrics.Window(ctx, asset.ID, p.scorer.WindowTypes(asset.AssetType), limit, since)
	if err != nil {
		return 0, err
	}

	score, err := p.scorer.Compute(asset, window)
	if err != nil {
		if apperr.IsInsufficientData(err) {
			p.prom.InsufficientData.Inc()
		}
		return 0, err
	}

	now := p.now().UTC()
	status := StatusForScore(asset.Status, score)
	if err := p.assets.UpdateHealth(ctx, asset.ID, score, status, now); err != nil {
		return 0, err
	}
	if status != asset.Status {
		p.log.Info("资产状态变更",
			zap.String("asset_id", asset.ID),
			zap.String("from", string(asset.Status)),
			zap.String("to", string(status)),
			zap.Float64("health_score", score))
	}
	asset.HealthScore = score
	asset.Status = status

	if _, err := p.evaluator.Evaluate(ctx, asset, Observation{
		MetricType: model.MetricHealthScore,
		Value:      score,
		At:         now,
	}); err != nil {
		return score, err
	}
	return score, nil
}

// normalize 校验输入并补全默认值
func (p *Pipeline) normalize(in MetricInput) (*model.Metric, error) {
	assetID := strings.TrimSpace(in.AssetID)
	if assetID == "" {
		return nil, apperr.Validation("asset_id", "is required")
	}

	metricType := model.MetricType(strings.ToLower(strings.TrimSpace(in.MetricType)))
	if !metricType.Known() {
		return nil, apperr.Validation("metric_type", "unknown metric type %q", in.MetricType)
	}

	if in.Value == nil {
		return nil, apperr.Validation("value", "is required")
	}
	if math.IsNaN(*in.Value) || math.IsInf(*in.Value, 0) {
		return nil, apperr.Validation("value", "must be a finite number")
	}

	// 未带时间戳的读数在取得资产锁后补为当前时间，保证同一资产内不早于已写入的读数
	var ts time.Time
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		ts = in.Timestamp.UTC()
		if ts.After(p.now().UTC().Add(maxClockSkew)) {
			return nil, apperr.Validation("timestamp", "is in the future")
		}
	}

	unit := strings.TrimSpace(in.Unit)
	if unit == "" {
		unit = metricType.DefaultUnit()
	}

	return &model.Metric{
		AssetID:    assetID,
		MetricType: metricType,
		Value:      *in.Value,
		Unit:       unit,
		Timestamp:  ts,
		Metadata:   in.Metadata,
	}, nil
}

// IsRetryable 调用方可据此决定是否重新投递
func IsRetryable(err error) bool {
	return apperr.IsStorage(err) && !errors.Is(err, context.Canceled)
}
