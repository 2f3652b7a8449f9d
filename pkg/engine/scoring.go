package engine

import (
	"math"
	"sort"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/stats"
)

const (
	// 每类指标取最近若干读数计算子分
	recentReadings = 5
	// 加权最小值：最差指标占 70%，其余取平均
	worstWeight = 0.7
)

// Scorer 健康分计算。输入相同的指标窗口总是得到相同的分数
type Scorer struct {
	ranges     map[model.MetricType]Range
	minSamples int
}

// NewScorer 创建计分器，设备正常区间由规则表推导
func NewScorer(rules *RuleSet, minSamples int) *Scorer {
	if minSamples < 2 {
		minSamples = 2
	}
	return &Scorer{
		ranges:     rules.Ranges(model.AssetTypeManufacturing),
		minSamples: minSamples,
	}
}

// WindowTypes 参与计分的指标类型
func (s *Scorer) WindowTypes(assetType model.AssetType) []model.MetricType {
	if assetType == model.AssetTypeFinancial {
		return []model.MetricType{model.MetricStockPrice, model.MetricPortfolioValue}
	}
	types := make([]model.MetricType, 0, len(s.ranges))
	for t := range s.ranges {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Compute 根据按时间正序排列的指标窗口计算 [0,100] 的健康分。
// 样本不足时返回 InsufficientDataError
func (s *Scorer) Compute(asset *model.Asset, window []*model.Metric) (float64, error) {
	switch asset.AssetType {
	case model.AssetTypeFinancial:
		return s.financial(asset.ID, window)
	case model.AssetTypeManufacturing:
		return s.manufacturing(asset.ID, window)
	}
	return 0, apperr.Validation("asset_type", "unknown asset type %q", asset.AssetType)
}

// financial 波动率越高、趋势越向下，分数越低
func (s *Scorer) financial(assetID string, window []*model.Metric) (float64, error) {
	prices := pricesOf(window, model.MetricStockPrice)
	if len(prices) < s.minSamples {
		prices = pricesOf(window, model.MetricPortfolioValue)
	}
	if len(prices) < s.minSamples {
		return 0, &apperr.InsufficientDataError{AssetID: assetID, Have: len(prices), Need: s.minSamples}
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1]*100)
	}
	volatility := stats.StdDev(returns)

	xs := make([]float64, len(prices))
	for i := range xs {
		xs[i] = float64(i)
	}
	slope, _, _, _ := stats.LinearRegression(xs, prices)
	trendPct := 0.0
	if mean := stats.Mean(prices); mean != 0 {
		trendPct = slope / mean * 100
	}

	score := 100 - math.Min(60, volatility*10)
	if trendPct < 0 {
		score -= math.Min(40, -trendPct*20)
	}
	return stats.Round(stats.Clamp(score, 0, 100), 1), nil
}

// manufacturing 按各指标偏离正常区间的程度计分，最差指标主导
func (s *Scorer) manufacturing(assetID string, window []*model.Metric) (float64, error) {
	byType := make(map[model.MetricType][]float64)
	samples := 0
	for _, m := range window {
		if _, ok := s.ranges[m.MetricType]; !ok {
			continue
		}
		byType[m.MetricType] = append(byType[m.MetricType], m.Value)
		samples++
	}
	if samples < s.minSamples {
		return 0, &apperr.InsufficientDataError{AssetID: assetID, Have: samples, Need: s.minSamples}
	}

	types := make([]model.MetricType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	subScores := make([]float64, 0, len(types))
	for _, t := range types {
		values := byType[t]
		if len(values) > recentReadings {
			values = values[len(values)-recentReadings:]
		}
		readings := make([]float64, len(values))
		for i, v := range values {
			readings[i] = readingScore(v, s.ranges[t])
		}
		subScores = append(subScores, stats.Mean(readings))
	}

	worst, _ := stats.MinMax(subScores)
	score := worstWeight*worst + (1-worstWeight)*stats.Mean(subScores)
	return stats.Round(stats.Clamp(score, 0, 100), 1), nil
}

// readingScore 区间内 100 分；越过上限到 critical 线扣 50 分，之后继续线性下降
func readingScore(v float64, r Range) float64 {
	switch {
	case v > r.Max:
		band := r.Critical - r.Max
		if math.IsInf(band, 0) || band <= 0 {
			band = fallbackBand(r)
		}
		return stats.Clamp(100-50*(v-r.Max)/band, 0, 100)
	case v < r.Min:
		return stats.Clamp(100-50*(r.Min-v)/fallbackBand(r), 0, 100)
	}
	return 100
}

func fallbackBand(r Range) float64 {
	if !math.IsInf(r.Min, 0) && !math.IsInf(r.Max, 0) && r.Max > r.Min {
		return (r.Max - r.Min) * 0.25
	}
	return math.Max(math.Abs(r.Max)*0.25, 1)
}

func pricesOf(window []*model.Metric, metricType model.MetricType) []float64 {
	prices := make([]float64, 0, len(window))
	for _, m := range window {
		if m.MetricType == metricType {
			prices = append(prices, m.Value)
		}
	}
	return prices
}

// StatusForScore 根据健康分推导资产状态，停用资产保持不变
func StatusForScore(current model.AssetStatus, score float64) model.AssetStatus {
	switch {
	case current == model.AssetStatusInactive:
		return current
	case score < 30:
		return model.AssetStatusFailed
	case score < 70:
		if current == model.AssetStatusActive {
			return model.AssetStatusMaintenance
		}
		return current
	default:
		if current == model.AssetStatusFailed || current == model.AssetStatusMaintenance {
			return model.AssetStatusActive
		}
		return current
	}
}
