package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"AssetRadar/pkg/database"
	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/messaging"
	"AssetRadar/pkg/model"
)

// AssetLister 采集目标
type AssetLister interface {
	List(ctx context.Context, filter database.AssetFilter) ([]*model.Asset, error)
}

// Collector 定时采集并投递读数
type Collector struct {
	fetcher  Fetcher
	assets   AssetLister
	sink     Sink
	interval time.Duration
	log      *zap.Logger
}

// NewCollector 创建采集器
func NewCollector(fetcher Fetcher, assets AssetLister, sink Sink, interval time.Duration, log *zap.Logger) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{fetcher: fetcher, assets: assets, sink: sink, interval: interval, log: log}
}

// Run 按间隔采集，ctx 取消后退出
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := c.CollectOnce(ctx)
			if err != nil {
				c.log.Error("采集失败", zap.Error(err))
				continue
			}
			c.log.Debug("已采集并投递读数", zap.Int("count", n))
		case <-ctx.Done():
			c.log.Info("停止采集任务")
			return
		}
	}
}

// CollectOnce 执行一轮采集，返回投递的读数条数
func (c *Collector) CollectOnce(ctx context.Context) (int, error) {
	assets, err := c.assets.List(ctx, database.AssetFilter{})
	if err != nil {
		return 0, fmt.Errorf("获取资产列表失败: %w", err)
	}
	inputs, err := c.fetcher.Fetch(ctx, assets)
	if err != nil {
		return 0, fmt.Errorf("采集读数失败: %w", err)
	}
	if len(inputs) == 0 {
		return 0, nil
	}
	if err := c.sink.Deliver(ctx, inputs); err != nil {
		return 0, fmt.Errorf("投递读数失败: %w", err)
	}
	return len(inputs), nil
}

// PublishSink 以数组消息发布到 metrics.raw
type PublishSink struct {
	Publisher messaging.Publisher
}

func (s PublishSink) Deliver(ctx context.Context, inputs []engine.MetricInput) error {
	return s.Publisher.Publish(ctx, messaging.SubjectMetricsRaw, inputs)
}

// IngestSink 直接写入流水线，单条失败只记录日志
type IngestSink struct {
	Ingester messaging.Ingester
	Log      *zap.Logger
}

func (s IngestSink) Deliver(ctx context.Context, inputs []engine.MetricInput) error {
	for _, r := range s.Ingester.IngestBatch(ctx, inputs) {
		if !r.Success {
			s.Log.Warn("读数写入失败", zap.Int("index", r.Index), zap.String("error", r.Error))
		}
	}
	return nil
}
