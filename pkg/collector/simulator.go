package collector

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/model"
)

type span struct{ lo, hi float64 }

// 模拟读数范围，覆盖正常区间与越限区间
var manufacturingSpans = map[model.MetricType]span{
	model.MetricTemperature: {20, 100},
	model.MetricVibration:   {0, 10},
	model.MetricPressure:    {0, 100},
	model.MetricVoltage:     {200, 245},
}

var manufacturingTypes = []model.MetricType{
	model.MetricTemperature,
	model.MetricVibration,
	model.MetricPressure,
	model.MetricVoltage,
}

// Simulator 生成模拟读数：设备随机取一种指标，金融资产在当前价格 ±10% 内波动
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator 创建模拟器，相同 seed 产生相同序列
func NewSimulator(seed uint64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Fetch 为每个资产生成一条当前时刻的读数，停用资产跳过
func (s *Simulator) Fetch(_ context.Context, assets []*model.Asset) ([]engine.MetricInput, error) {
	now := time.Now().UTC()
	inputs := make([]engine.MetricInput, 0, len(assets))
	for _, asset := range assets {
		if asset.Status == model.AssetStatusInactive {
			continue
		}
		inputs = append(inputs, s.Reading(asset, now))
	}
	return inputs, nil
}

// History 生成截至 end 的一段等间隔历史读数，按时间正序
func (s *Simulator) History(asset *model.Asset, end time.Time, duration, interval time.Duration) []engine.MetricInput {
	if interval <= 0 || duration < interval {
		return nil
	}
	n := int(duration / interval)
	start := end.Add(-time.Duration(n-1) * interval)
	inputs := make([]engine.MetricInput, 0, n)
	for i := range n {
		inputs = append(inputs, s.Reading(asset, start.Add(time.Duration(i)*interval)))
	}
	return inputs
}

// Reading 生成单条读数
func (s *Simulator) Reading(asset *model.Asset, at time.Time) engine.MetricInput {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		metricType model.MetricType
		value      float64
	)
	if asset.AssetType == model.AssetTypeFinancial {
		metricType = model.MetricStockPrice
		if asset.CurrentPrice != nil && *asset.CurrentPrice > 0 {
			p := *asset.CurrentPrice
			value = s.uniform(span{p * 0.9, p * 1.1})
		} else {
			value = s.uniform(span{100, 500})
		}
	} else {
		metricType = manufacturingTypes[s.rng.IntN(len(manufacturingTypes))]
		value = s.uniform(manufacturingSpans[metricType])
	}

	at = at.UTC()
	return engine.MetricInput{
		AssetID:    asset.ID,
		MetricType: string(metricType),
		Value:      &value,
		Unit:       metricType.DefaultUnit(),
		Timestamp:  &at,
		Metadata:   map[string]any{"simulated": true},
	}
}

func (s *Simulator) uniform(r span) float64 {
	return r.lo + s.rng.Float64()*(r.hi-r.lo)
}
