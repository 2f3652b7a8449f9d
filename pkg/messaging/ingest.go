package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/model"
)

// Ingester 指标写入
type Ingester interface {
	Ingest(ctx context.Context, in engine.MetricInput) (*model.Metric, error)
	IngestBatch(ctx context.Context, inputs []engine.MetricInput) []engine.BatchResult
}

// NewIngestHandler 处理 metrics.raw 消息，消息体为单条指标或指标数组。
// 单条指标遇到存储错误时返回错误以便重新投递；批量消息只把可重试的失败子集
// 重新发布到 metrics.raw，发布失败时返回错误使整条消息重新投递。校验失败只记录日志
func NewIngestHandler(ingester Ingester, pub Publisher, log *zap.Logger) MessageHandler {
	return func(ctx context.Context, data []byte) error {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			log.Warn("丢弃空指标消息")
			return nil
		}

		if trimmed[0] == '[' {
			var inputs []engine.MetricInput
			if err := json.Unmarshal(trimmed, &inputs); err != nil {
				log.Warn("丢弃无法解析的指标消息", zap.Error(err))
				return nil
			}
			return ingestBatch(ctx, ingester, pub, log, inputs)
		}

		var in engine.MetricInput
		if err := json.Unmarshal(trimmed, &in); err != nil {
			log.Warn("丢弃无法解析的指标消息", zap.Error(err))
			return nil
		}
		if _, err := ingester.Ingest(ctx, in); err != nil {
			if engine.IsRetryable(err) {
				return fmt.Errorf("写入指标失败: %w", err)
			}
			log.Warn("丢弃无效指标", zap.String("asset_id", in.AssetID), zap.Error(err))
		}
		return nil
	}
}

func ingestBatch(ctx context.Context, ingester Ingester, pub Publisher, log *zap.Logger, inputs []engine.MetricInput) error {
	var retry []engine.MetricInput
	failed := 0
	for _, r := range ingester.IngestBatch(ctx, inputs) {
		if r.Success {
			continue
		}
		failed++
		in := inputs[r.Index]
		switch {
		case !r.Retryable:
			log.Warn("批量指标写入失败", zap.Int("index", r.Index), zap.String("error", r.Error))
		case in.Attempt+1 >= MaxDeliver:
			log.Error("批量指标重试次数耗尽，丢弃",
				zap.String("asset_id", in.AssetID), zap.String("metric_type", in.MetricType),
				zap.Int("attempt", in.Attempt), zap.String("error", r.Error))
		default:
			// 重发时固定时间戳，避免重试读数被当作最新读数
			if in.Timestamp == nil {
				now := time.Now().UTC()
				in.Timestamp = &now
			}
			in.Attempt++
			retry = append(retry, in)
		}
	}
	log.Debug("批量指标已处理",
		zap.Int("total", len(inputs)), zap.Int("failed", failed), zap.Int("retry", len(retry)))

	if len(retry) == 0 {
		return nil
	}
	if pub == nil {
		return fmt.Errorf("批量指标 %d 条写入失败且无法重发", len(retry))
	}
	if err := pub.Publish(ctx, SubjectMetricsRaw, retry); err != nil {
		return fmt.Errorf("重发失败指标失败: %w", err)
	}
	log.Warn("批量指标部分写入失败，已重发失败子集", zap.Int("retry", len(retry)))
	return nil
}
