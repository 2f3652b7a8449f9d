package model

import "fmt"

// Operator 阈值比较符
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

// Measure 规则比较的量
type Measure string

const (
	MeasureValue         Measure = "value"
	MeasureChangePercent Measure = "change_percent" // 相对上一读数的涨跌幅绝对值
)

// ThresholdRule (资产类型, 指标类型) -> 比较符 + 阈值 + 严重程度
type ThresholdRule struct {
	AssetType  AssetType     `json:"asset_type"`
	MetricType MetricType    `json:"metric_type"`
	Measure    Measure       `json:"measure"`
	Operator   Operator      `json:"operator"`
	Bound      float64       `json:"bound"`
	Severity   AlertSeverity `json:"severity"`
}

// Breached 给定量是否越过阈值
func (r ThresholdRule) Breached(v float64) bool {
	switch r.Operator {
	case OpGreater:
		return v > r.Bound
	case OpGreaterEqual:
		return v >= r.Bound
	case OpLess:
		return v < r.Bound
	case OpLessEqual:
		return v <= r.Bound
	}
	return false
}

// Validate 校验规则定义
func (r ThresholdRule) Validate() error {
	if !r.AssetType.Valid() {
		return fmt.Errorf("unknown asset type %q", r.AssetType)
	}
	if r.MetricType == "" {
		return fmt.Errorf("metric type is required")
	}
	switch r.Operator {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
	default:
		return fmt.Errorf("unknown operator %q", r.Operator)
	}
	if r.Measure != MeasureValue && r.Measure != MeasureChangePercent {
		return fmt.Errorf("unknown measure %q", r.Measure)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	return nil
}

func (r ThresholdRule) String() string {
	if r.Measure == MeasureChangePercent {
		return fmt.Sprintf("|Δ%s| %s %.2f%%", r.MetricType, r.Operator, r.Bound)
	}
	return fmt.Sprintf("%s %s %.2f", r.MetricType, r.Operator, r.Bound)
}
