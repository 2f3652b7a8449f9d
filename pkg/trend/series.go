package trend

import (
	"iter"
	"slices"
	"time"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/stats"
)

// Period 固定桶宽的查询周期
type Period struct {
	Name    string
	Buckets int
	Width   time.Duration
}

var periods = map[string]Period{
	"24h": {Name: "24h", Buckets: 24, Width: time.Hour},
	"7d":  {Name: "7d", Buckets: 7, Width: 24 * time.Hour},
	"30d": {Name: "30d", Buckets: 30, Width: 24 * time.Hour},
}

// ParsePeriod 解析周期，空字符串为 24h
func ParsePeriod(name string) (Period, error) {
	if name == "" {
		name = "24h"
	}
	p, ok := periods[name]
	if !ok {
		return Period{}, apperr.Validation("period", "unsupported period %q (24h, 7d, 30d)", name)
	}
	return p, nil
}

// Window 返回以 now 所在桶结尾的 [start, end) 区间
func (p Period) Window(now time.Time) (start, end time.Time) {
	end = now.UTC().Truncate(p.Width).Add(p.Width)
	start = end.Add(-time.Duration(p.Buckets) * p.Width)
	return start, end
}

// Point 一个桶的聚合值，Value 为 nil 表示桶内无样本
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
}

type sample struct {
	At    time.Time `json:"t"`
	Value float64   `json:"v"`
}

// Series 趋势序列。桶在迭代时才聚合，可以重复迭代
type Series struct {
	AssetID    string
	MetricType model.MetricType
	Period     Period
	Start      time.Time

	samples []sample // 按时间正序
}

// All 依次产出每个桶的平均值，共 Period.Buckets 个
func (s *Series) All() iter.Seq[Point] {
	return func(yield func(Point) bool) {
		j := 0
		for i := 0; i < s.Period.Buckets; i++ {
			from := s.Start.Add(time.Duration(i) * s.Period.Width)
			to := from.Add(s.Period.Width)

			var sum float64
			n := 0
			for j < len(s.samples) && s.samples[j].At.Before(to) {
				if !s.samples[j].At.Before(from) {
					sum += s.samples[j].Value
					n++
				}
				j++
			}

			p := Point{Timestamp: from}
			if n > 0 {
				avg := stats.Round(sum/float64(n), 4)
				p.Value = &avg
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Points 物化全部桶
func (s *Series) Points() []Point {
	return slices.Collect(s.All())
}

// Len 样本数
func (s *Series) Len() int {
	return len(s.samples)
}

// Values 原始样本值
func (s *Series) Values() []float64 {
	values := make([]float64, len(s.samples))
	for i, smp := range s.samples {
		values[i] = smp.Value
	}
	return values
}
