package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"AssetRadar/pkg/model"
)

type MetricDB struct {
	*DB
}

func (d *DB) Metric() *MetricDB {
	return &MetricDB{DB: d}
}

// MetricQuery 指标查询条件
type MetricQuery struct {
	AssetID    string
	MetricType model.MetricType
	Start      *time.Time
	End        *time.Time
	Limit      int
}

func (m *MetricDB) Save(ctx context.Context, metric *model.Metric) error {
	return m.retry(ctx, "metric.save", func(tx *gorm.DB) error {
		if err := tx.Create(metric).Error; err != nil {
			return fmt.Errorf("保存指标失败: %w", err)
		}
		return nil
	})
}

// Query 按时间倒序返回指标
func (m *MetricDB) Query(ctx context.Context, q MetricQuery) ([]*model.Metric, error) {
	var metrics []*model.Metric
	err := m.retry(ctx, "metric.query", func(tx *gorm.DB) error {
		query := tx.Where("asset_id = ?", q.AssetID)
		if q.MetricType != "" {
			query = query.Where("metric_type = ?", q.MetricType)
		}
		if q.Start != nil {
			query = query.Where("timestamp >= ?", *q.Start)
		}
		if q.End != nil {
			query = query.Where("timestamp <= ?", *q.End)
		}
		if q.Limit > 0 {
			query = query.Limit(q.Limit)
		}
		return query.Order("timestamp DESC").Find(&metrics).Error
	})
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

// Window 最近的指标窗口，按时间正序返回。since 非空时只取该时间之后的数据
func (m *MetricDB) Window(ctx context.Context, assetID string, types []model.MetricType, limit int, since *time.Time) ([]*model.Metric, error) {
	var metrics []*model.Metric
	err := m.retry(ctx, "metric.window", func(tx *gorm.DB) error {
		query := tx.Where("asset_id = ?", assetID)
		if len(types) > 0 {
			query = query.Where("metric_type IN ?", types)
		}
		if since != nil {
			query = query.Where("timestamp >= ?", *since)
		}
		return query.Order("timestamp DESC").Order("created_at DESC").
			Limit(limit).
			Find(&metrics).Error
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(metrics)-1; i < j; i, j = i+1, j-1 {
		metrics[i], metrics[j] = metrics[j], metrics[i]
	}
	return metrics, nil
}

// Previous 同一资产同类指标中时间不晚于 metric 的上一条记录
func (m *MetricDB) Previous(ctx context.Context, metric *model.Metric) (*model.Metric, error) {
	var prev model.Metric
	err := m.retry(ctx, "metric.previous", func(tx *gorm.DB) error {
		return tx.Where("asset_id = ? AND metric_type = ? AND timestamp <= ? AND id <> ?",
			metric.AssetID, metric.MetricType, metric.Timestamp, metric.ID).
			Order("timestamp DESC").Order("created_at DESC").
			First(&prev).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &prev, nil
}

// HasNewer 同一资产同类指标中是否存在时间晚于 metric 的记录
func (m *MetricDB) HasNewer(ctx context.Context, metric *model.Metric) (bool, error) {
	var count int64
	err := m.retry(ctx, "metric.has_newer", func(tx *gorm.DB) error {
		return tx.Model(&model.Metric{}).
			Where("asset_id = ? AND metric_type = ? AND timestamp > ?",
				metric.AssetID, metric.MetricType, metric.Timestamp).
			Limit(1).
			Count(&count).Error
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Range 时间区间 [start, end) 内的指标，按时间正序
func (m *MetricDB) Range(ctx context.Context, assetID string, metricType model.MetricType, start, end time.Time) ([]*model.Metric, error) {
	var metrics []*model.Metric
	err := m.retry(ctx, "metric.range", func(tx *gorm.DB) error {
		return tx.Where("asset_id = ? AND metric_type = ? AND timestamp >= ? AND timestamp < ?",
			assetID, metricType, start, end).
			Order("timestamp ASC").
			Find(&metrics).Error
	})
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

// Since 所有资产在 since 之后的指标，用于实时视图
func (m *MetricDB) Since(ctx context.Context, since time.Time, limit int) ([]*model.Metric, error) {
	var metrics []*model.Metric
	err := m.retry(ctx, "metric.since", func(tx *gorm.DB) error {
		return tx.Where("timestamp >= ?", since).
			Order("timestamp DESC").
			Limit(limit).
			Find(&metrics).Error
	})
	return metrics, err
}

// DeleteOlderThan 清理过期指标，返回删除条数
func (m *MetricDB) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := m.retry(ctx, "metric.cleanup", func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff).Delete(&model.Metric{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}
