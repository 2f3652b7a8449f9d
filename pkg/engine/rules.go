package engine

import (
	"fmt"
	"math"
	"sort"

	"AssetRadar/pkg/config"
	"AssetRadar/pkg/model"
)

// DefaultRules 内置阈值规则表
func DefaultRules() []model.ThresholdRule {
	mfg := func(metric model.MetricType, critical, high, low float64) []model.ThresholdRule {
		return []model.ThresholdRule{
			{AssetType: model.AssetTypeManufacturing, MetricType: metric, Measure: model.MeasureValue, Operator: model.OpGreater, Bound: critical, Severity: model.SeverityCritical},
			{AssetType: model.AssetTypeManufacturing, MetricType: metric, Measure: model.MeasureValue, Operator: model.OpGreater, Bound: high, Severity: model.SeverityHigh},
			{AssetType: model.AssetTypeManufacturing, MetricType: metric, Measure: model.MeasureValue, Operator: model.OpLess, Bound: low, Severity: model.SeverityMedium},
		}
	}
	price := func(metric model.MetricType) []model.ThresholdRule {
		return []model.ThresholdRule{
			{AssetType: model.AssetTypeFinancial, MetricType: metric, Measure: model.MeasureChangePercent, Operator: model.OpGreater, Bound: 10, Severity: model.SeverityCritical},
			{AssetType: model.AssetTypeFinancial, MetricType: metric, Measure: model.MeasureChangePercent, Operator: model.OpGreater, Bound: 5, Severity: model.SeverityHigh},
		}
	}
	health := func(assetType model.AssetType) []model.ThresholdRule {
		return []model.ThresholdRule{
			{AssetType: assetType, MetricType: model.MetricHealthScore, Measure: model.MeasureValue, Operator: model.OpLess, Bound: 30, Severity: model.SeverityCritical},
			{AssetType: assetType, MetricType: model.MetricHealthScore, Measure: model.MeasureValue, Operator: model.OpLess, Bound: 50, Severity: model.SeverityHigh},
			{AssetType: assetType, MetricType: model.MetricHealthScore, Measure: model.MeasureValue, Operator: model.OpLess, Bound: 70, Severity: model.SeverityMedium},
		}
	}

	var rules []model.ThresholdRule
	rules = append(rules, mfg(model.MetricTemperature, 90, 80, 20)...)
	rules = append(rules, mfg(model.MetricVibration, 8, 5, 0)...)
	rules = append(rules, mfg(model.MetricPressure, 95, 80, 0)...)
	rules = append(rules, mfg(model.MetricVoltage, 240, 230, 210)...)
	rules = append(rules, mfg(model.MetricCurrent, 15, 10, 0)...)
	rules = append(rules, price(model.MetricStockPrice)...)
	rules = append(rules, price(model.MetricPortfolioValue)...)
	rules = append(rules, health(model.AssetTypeManufacturing)...)
	rules = append(rules, health(model.AssetTypeFinancial)...)
	return rules
}

// RulesFromConfig 将配置中的阈值覆盖项转换为规则，为空时返回内置规则
func RulesFromConfig(items []config.Threshold) ([]model.ThresholdRule, error) {
	if len(items) == 0 {
		return DefaultRules(), nil
	}

	rules := make([]model.ThresholdRule, 0, len(items))
	for i, item := range items {
		rule := model.ThresholdRule{
			AssetType:  model.AssetType(item.AssetType),
			MetricType: model.MetricType(item.MetricType),
			Measure:    model.Measure(item.Measure),
			Operator:   model.Operator(item.Operator),
			Bound:      item.Bound,
			Severity:   model.AlertSeverity(item.Severity),
		}
		if rule.Measure == "" {
			rule.Measure = model.MeasureValue
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("第 %d 条阈值规则无效: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type ruleKey struct {
	assetType  model.AssetType
	metricType model.MetricType
}

// RuleSet 只读规则表，按严重程度从高到低排列
type RuleSet struct {
	rules map[ruleKey][]model.ThresholdRule
}

// NewRuleSet 构建规则表
func NewRuleSet(rules []model.ThresholdRule) *RuleSet {
	rs := &RuleSet{rules: make(map[ruleKey][]model.ThresholdRule)}
	for _, rule := range rules {
		key := ruleKey{rule.AssetType, rule.MetricType}
		rs.rules[key] = append(rs.rules[key], rule)
	}
	for _, list := range rs.rules {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Severity.Rank() > list[j].Severity.Rank()
		})
	}
	return rs
}

// Rules 返回 (资产类型, 指标类型) 的规则
func (rs *RuleSet) Rules(assetType model.AssetType, metricType model.MetricType) []model.ThresholdRule {
	return rs.rules[ruleKey{assetType, metricType}]
}

// Len 规则总数
func (rs *RuleSet) Len() int {
	n := 0
	for _, list := range rs.rules {
		n += len(list)
	}
	return n
}

// Match 按 critical > high > medium > low 顺序返回第一条命中的规则。
// evaluable 为 false 表示没有可评估的规则，调用方不应据此自动解决告警
func (rs *RuleSet) Match(assetType model.AssetType, obs Observation) (rule *model.ThresholdRule, measured float64, evaluable bool) {
	for _, r := range rs.Rules(assetType, obs.MetricType) {
		v, ok := obs.measure(r.Measure)
		if !ok {
			continue
		}
		evaluable = true
		if r.Breached(v) {
			matched := r
			return &matched, v, true
		}
	}
	return nil, 0, evaluable
}

// Range 正常运行区间
type Range struct {
	Min      float64
	Max      float64
	Critical float64
}

// Ranges 从规则表推导设备指标的正常区间：
// Min 取 "<" 规则中最大的阈值，Max 取非 critical 的 ">" 规则中最小的阈值
func (rs *RuleSet) Ranges(assetType model.AssetType) map[model.MetricType]Range {
	ranges := make(map[model.MetricType]Range)
	for key, list := range rs.rules {
		if key.assetType != assetType || key.metricType == model.MetricHealthScore {
			continue
		}
		r := Range{Min: math.Inf(-1), Max: math.Inf(1), Critical: math.Inf(1)}
		found := false
		for _, rule := range list {
			if rule.Measure != model.MeasureValue {
				continue
			}
			switch rule.Operator {
			case model.OpLess, model.OpLessEqual:
				r.Min = math.Max(r.Min, rule.Bound)
				found = true
			case model.OpGreater, model.OpGreaterEqual:
				if rule.Severity == model.SeverityCritical {
					r.Critical = math.Min(r.Critical, rule.Bound)
				} else {
					r.Max = math.Min(r.Max, rule.Bound)
				}
				found = true
			}
		}
		if !found {
			continue
		}
		if math.IsInf(r.Max, 1) {
			r.Max = r.Critical
		}
		ranges[key.metricType] = r
	}
	return ranges
}
