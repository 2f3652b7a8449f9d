package stats

import "math"

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev 样本标准差
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func MinMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// LinearRegression 最小二乘拟合 y = slope*x + intercept
func LinearRegression(xVals, yVals []float64) (slope, intercept, r2 float64, ok bool) {
	if len(xVals) != len(yVals) || len(xVals) < 2 {
		return 0, 0, 0, false
	}
	n := float64(len(xVals))
	var sumX, sumY, sumXY, sumX2 float64
	for i := range xVals {
		sumX += xVals[i]
		sumY += yVals[i]
		sumXY += xVals[i] * yVals[i]
		sumX2 += xVals[i] * xVals[i]
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i := range xVals {
		diff := yVals[i] - meanY
		ssTot += diff * diff
		res := yVals[i] - (slope*xVals[i] + intercept)
		ssRes += res * res
	}
	if ssTot == 0 {
		return slope, intercept, 1, true
	}
	return slope, intercept, 1 - ssRes/ssTot, true
}

// Round 保留 places 位小数
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Clamp 将 v 限制在 [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
