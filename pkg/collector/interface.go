package collector

import (
	"context"

	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/model"
)

// Fetcher 为一组资产采集一轮读数
type Fetcher interface {
	Fetch(ctx context.Context, assets []*model.Asset) ([]engine.MetricInput, error)
}

// Sink 采集结果的去向
type Sink interface {
	Deliver(ctx context.Context, inputs []engine.MetricInput) error
}
