package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/database"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
)

// AlertStore 告警持久化
type AlertStore interface {
	Create(ctx context.Context, alert *model.Alert) error
	Get(ctx context.Context, id string) (*model.Alert, error)
	FindUnresolved(ctx context.Context, assetID, condition string) (*model.Alert, error)
	Touch(ctx context.Context, id string, touch database.AlertTouch) (*model.Alert, error)
	Resolve(ctx context.Context, id, notes string, at time.Time) (*model.Alert, bool, error)
	Acknowledge(ctx context.Context, id, by string, at time.Time) (*model.Alert, bool, error)
}

// Notifier 接收告警与指标事件，实现方不得阻塞调用方
type Notifier interface {
	Notify(ctx context.Context, event model.Event)
}

// Notifiers 将事件扇出到多个 Notifier
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, event model.Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}

// Observation 一次待评估的观测值
type Observation struct {
	MetricType model.MetricType
	Value      float64
	Unit       string
	Previous   *float64 // 价格类指标的上一读数
	At         time.Time
}

func (o Observation) measure(m model.Measure) (float64, bool) {
	switch m {
	case model.MeasureValue:
		return o.Value, true
	case model.MeasureChangePercent:
		if o.Previous == nil || *o.Previous == 0 {
			return 0, false
		}
		return math.Abs((o.Value - *o.Previous) / *o.Previous * 100), true
	}
	return 0, false
}

// Result 单次评估结果，Action 为空表示告警状态未变化
type Result struct {
	Action string
	Alert  *model.Alert
}

// AckResult 批量确认中单条告警的结果
type AckResult struct {
	AlertID string            `json:"alert_id"`
	Success bool              `json:"success"`
	Status  model.AlertStatus `json:"status,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Evaluator 阈值与告警评估器。调用方需按资产串行调用 Evaluate
type Evaluator struct {
	alerts   AlertStore
	rules    atomic.Pointer[RuleSet]
	notifier Notifier
	metrics  *monitor.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewEvaluator 创建评估器
func NewEvaluator(alerts AlertStore, rules *RuleSet, notifier Notifier, metrics *monitor.Metrics, log *zap.Logger) *Evaluator {
	if notifier == nil {
		notifier = Notifiers{}
	}
	if metrics == nil {
		metrics = monitor.NewMetrics(nil)
	}
	e := &Evaluator{
		alerts:   alerts,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
	e.rules.Store(rules)
	return e
}

// ReloadRules 替换规则表，已存在的告警不受影响
func (e *Evaluator) ReloadRules(rules *RuleSet) {
	e.rules.Store(rules)
	e.log.Info("阈值规则已重新加载", zap.Int("rules", rules.Len()))
}

// Rules 当前规则表
func (e *Evaluator) Rules() *RuleSet {
	return e.rules.Load()
}

// Evaluate 评估指标或健康分观测值：越限时创建或更新告警，恢复正常时自动解决
func (e *Evaluator) Evaluate(ctx context.Context, asset *model.Asset, obs Observation) (*Result, error) {
	rule, measured, evaluable := e.rules.Load().Match(asset.AssetType, obs)
	if !evaluable {
		return &Result{}, nil
	}

	condition := model.ConditionForMetric(obs.MetricType)
	if rule == nil {
		return e.clear(ctx, asset, condition, obs.At)
	}

	breach := breach{
		condition:  condition,
		metricType: obs.MetricType,
		severity:   rule.Severity,
		threshold:  rule.Bound,
		actual:     measured,
		title:      fmt.Sprintf("%s %s", asset.Name, alertTitle(obs.MetricType)),
		message:    describeBreach(*rule, measured, obs),
		at:         obs.At,
	}
	return e.raise(ctx, asset, breach)
}

// EvaluateMaintenance 计划维护在 leadDays 天内到期时告警，否则自动解决
func (e *Evaluator) EvaluateMaintenance(ctx context.Context, asset *model.Asset, leadDays int) (*Result, error) {
	now := e.now()
	if asset.NextMaintenance == nil {
		return e.clear(ctx, asset, model.ConditionMaintenanceDue, now)
	}

	days := asset.NextMaintenance.Sub(now).Hours() / 24
	if days > float64(leadDays) {
		return e.clear(ctx, asset, model.ConditionMaintenanceDue, now)
	}

	severity := model.SeverityMedium
	if days <= 1 {
		severity = model.SeverityHigh
	}
	message := fmt.Sprintf("计划维护将于 %s 到期（剩余 %.1f 天）",
		asset.NextMaintenance.Format("2006-01-02 15:04"), days)
	if days < 0 {
		message = fmt.Sprintf("计划维护已逾期 %.1f 天", -days)
	}

	return e.raise(ctx, asset, breach{
		condition: model.ConditionMaintenanceDue,
		severity:  severity,
		threshold: float64(leadDays),
		actual:    math.Round(days*10) / 10,
		title:     fmt.Sprintf("%s %s", asset.Name, "维护到期"),
		message:   message,
		at:        now,
	})
}

type breach struct {
	condition  string
	metricType model.MetricType
	severity   model.AlertSeverity
	threshold  float64
	actual     float64
	title      string
	message    string
	at         time.Time
}

// raise 同一条件已有未解决告警时只更新观测值，否则新建
func (e *Evaluator) raise(ctx context.Context, asset *model.Asset, b breach) (*Result, error) {
	result, err := e.touchUnresolved(ctx, asset.ID, b)
	if err != nil || result != nil {
		return result, err
	}

	alert := &model.Alert{
		AssetID:        asset.ID,
		Condition:      b.condition,
		Title:          b.title,
		Description:    b.message,
		Severity:       b.severity,
		Status:         model.AlertStatusOpen,
		MetricType:     b.metricType,
		ThresholdValue: b.threshold,
		ActualValue:    b.actual,
		Occurrences:    1,
		LastSeenAt:     b.at,
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		if !errors.Is(err, apperr.ErrDuplicate) {
			return nil, err
		}
		// 其他进程已抢先创建同一条件的告警，改为累加
		result, touchErr := e.touchUnresolved(ctx, asset.ID, b)
		if touchErr != nil {
			return nil, touchErr
		}
		if result == nil {
			return nil, fmt.Errorf("告警并发冲突后未找到未解决告警: %w", err)
		}
		return result, nil
	}

	e.log.Info("创建告警",
		zap.String("asset_id", asset.ID),
		zap.String("condition", b.condition),
		zap.String("severity", string(b.severity)),
		zap.Float64("actual", b.actual))
	return e.emit(ctx, model.ActionCreated, alert), nil
}

// touchUnresolved 累加已有未解决告警；不存在或刚被人工解决时返回 nil
func (e *Evaluator) touchUnresolved(ctx context.Context, assetID string, b breach) (*Result, error) {
	existing, err := e.alerts.FindUnresolved(ctx, assetID, b.condition)
	if err != nil {
		return nil, fmt.Errorf("查询未解决告警失败: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	updated, err := e.alerts.Touch(ctx, existing.ID, database.AlertTouch{
		Severity:       b.severity,
		ThresholdValue: b.threshold,
		ActualValue:    b.actual,
		Description:    b.message,
		SeenAt:         b.at,
	})
	if err != nil || updated == nil {
		return nil, err
	}
	return e.emit(ctx, model.ActionUpdated, updated), nil
}

// clear 条件恢复正常，自动解决未解决告警。已解决的告警重复评估为空操作
func (e *Evaluator) clear(ctx context.Context, asset *model.Asset, condition string, at time.Time) (*Result, error) {
	existing, err := e.alerts.FindUnresolved(ctx, asset.ID, condition)
	if err != nil {
		return nil, fmt.Errorf("查询未解决告警失败: %w", err)
	}
	if existing == nil {
		return &Result{}, nil
	}

	resolved, changed, err := e.alerts.Resolve(ctx, existing.ID, "auto-resolved: condition back within bounds", at)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &Result{Alert: resolved}, nil
	}

	e.log.Info("告警自动解决",
		zap.String("asset_id", asset.ID),
		zap.String("alert_id", resolved.ID),
		zap.String("condition", condition))
	return e.emit(ctx, model.ActionResolved, resolved), nil
}

// Acknowledge 人工确认告警 open -> acknowledged；已解决的告警返回 ErrInvalidTransition
func (e *Evaluator) Acknowledge(ctx context.Context, alertID, by string) (*model.Alert, error) {
	alert, changed, err := e.alerts.Acknowledge(ctx, alertID, by, e.now())
	if err != nil {
		return nil, err
	}
	if changed {
		e.emit(ctx, model.ActionAcknowledged, alert)
	}
	return alert, nil
}

// BulkAcknowledge 逐条确认，单条失败不影响其他告警
func (e *Evaluator) BulkAcknowledge(ctx context.Context, alertIDs []string, by string) []AckResult {
	results := make([]AckResult, 0, len(alertIDs))
	for _, id := range alertIDs {
		alert, err := e.Acknowledge(ctx, id, by)
		if err != nil {
			results = append(results, AckResult{AlertID: id, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, AckResult{AlertID: id, Success: true, Status: alert.Status})
	}
	return results
}

// Resolve 人工解决告警，重复解决为空操作
func (e *Evaluator) Resolve(ctx context.Context, alertID, notes string) (*model.Alert, error) {
	alert, changed, err := e.alerts.Resolve(ctx, alertID, notes, e.now())
	if err != nil {
		return nil, err
	}
	if changed {
		e.emit(ctx, model.ActionResolved, alert)
	}
	return alert, nil
}

func (e *Evaluator) emit(ctx context.Context, action string, alert *model.Alert) *Result {
	e.metrics.AlertTransitions.WithLabelValues(action, string(alert.Severity)).Inc()
	e.notifier.Notify(ctx, model.AlertEvent(action, alert))
	return &Result{Action: action, Alert: alert}
}

// alertTitle 获取告警标题
func alertTitle(metricType model.MetricType) string {
	switch metricType {
	case model.MetricTemperature:
		return "温度异常"
	case model.MetricVibration:
		return "振动异常"
	case model.MetricPressure:
		return "压力异常"
	case model.MetricVoltage:
		return "电压异常"
	case model.MetricCurrent:
		return "电流异常"
	case model.MetricStockPrice:
		return "价格异动"
	case model.MetricPortfolioValue:
		return "组合价值异动"
	case model.MetricRiskScore:
		return "风险评分异常"
	case model.MetricHealthScore:
		return "健康分过低"
	default:
		return "指标异常"
	}
}

func describeBreach(rule model.ThresholdRule, measured float64, obs Observation) string {
	if rule.Measure == model.MeasureChangePercent {
		return fmt.Sprintf("%s 涨跌幅 %.2f%%，超过阈值 %.2f%%（当前 %.2f %s）",
			obs.MetricType, measured, rule.Bound, obs.Value, obs.Unit)
	}
	return fmt.Sprintf("%s 当前值 %.2f %s，触发规则 %s", obs.MetricType, obs.Value, obs.Unit, rule)
}
