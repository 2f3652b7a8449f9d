package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/model"
)

type AssetDB struct {
	*DB
}

func (d *DB) Asset() *AssetDB {
	return &AssetDB{DB: d}
}

// AssetFilter 资产列表过滤条件
type AssetFilter struct {
	AssetType model.AssetType
	Status    model.AssetStatus
	Limit     int
	Offset    int
}

// AssetStats 资产汇总
type AssetStats struct {
	Total          int64   `json:"total"`
	Active         int64   `json:"active"`
	AvgHealthScore float64 `json:"avg_health_score"`
}

func (a *AssetDB) Create(ctx context.Context, asset *model.Asset) error {
	if asset.Status == "" {
		asset.Status = model.AssetStatusActive
	}
	if asset.HealthScore == 0 {
		asset.HealthScore = 100
	}
	if asset.UptimePercentage == 0 {
		asset.UptimePercentage = 100
	}
	return a.retry(ctx, "asset.create", func(tx *gorm.DB) error {
		if err := tx.Create(asset).Error; err != nil {
			return fmt.Errorf("保存资产失败: %w", err)
		}
		return nil
	})
}

func (a *AssetDB) Get(ctx context.Context, id string) (*model.Asset, error) {
	var asset model.Asset
	err := a.retry(ctx, "asset.get", func(tx *gorm.DB) error {
		return tx.First(&asset, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("asset", id)
		}
		return nil, err
	}
	return &asset, nil
}

func (a *AssetDB) List(ctx context.Context, filter AssetFilter) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := a.retry(ctx, "asset.list", func(tx *gorm.DB) error {
		query := tx.Model(&model.Asset{})
		if filter.AssetType != "" {
			query = query.Where("asset_type = ?", filter.AssetType)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit).Offset(filter.Offset)
		}
		return query.Order("created_at ASC").Find(&assets).Error
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// UpdateHealth 更新健康分与状态，并追加一条健康分历史
func (a *AssetDB) UpdateHealth(ctx context.Context, id string, score float64, status model.AssetStatus, at time.Time) error {
	return a.retry(ctx, "asset.update_health", func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Asset{}).
				Where("id = ?", id).
				Updates(map[string]any{
					"health_score":      score,
					"health_updated_at": at,
					"status":            status,
				})
			if res.Error != nil {
				return fmt.Errorf("更新资产健康分失败: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return apperr.NotFound("asset", id)
			}

			record := &model.HealthRecord{AssetID: id, Score: score, ComputedAt: at}
			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("保存健康分历史失败: %w", err)
			}
			return nil
		})
	})
}

// MaintenanceDue 下次维护时间早于 before 的活跃设备
func (a *AssetDB) MaintenanceDue(ctx context.Context, before time.Time) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := a.retry(ctx, "asset.maintenance_due", func(tx *gorm.DB) error {
		return tx.Where("next_maintenance IS NOT NULL AND next_maintenance <= ?", before).
			Where("status <> ?", model.AssetStatusInactive).
			Find(&assets).Error
	})
	return assets, err
}

// WithScheduledMaintenance 设置了下次维护时间的资产
func (a *AssetDB) WithScheduledMaintenance(ctx context.Context) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := a.retry(ctx, "asset.scheduled_maintenance", func(tx *gorm.DB) error {
		return tx.Where("next_maintenance IS NOT NULL").Find(&assets).Error
	})
	return assets, err
}

func (a *AssetDB) Stats(ctx context.Context) (AssetStats, error) {
	var stats AssetStats
	err := a.retry(ctx, "asset.stats", func(tx *gorm.DB) error {
		return tx.Model(&model.Asset{}).
			Select("COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS active, "+
				"COALESCE(AVG(health_score), 0) AS avg_health_score", model.AssetStatusActive).
			Scan(&stats).Error
	})
	return stats, err
}

// CountBy 按字段分组计数，字段仅限 status 或 asset_type
func (a *AssetDB) CountBy(ctx context.Context, field string) (map[string]int64, error) {
	if field != "status" && field != "asset_type" {
		return nil, apperr.Validation("field", "unsupported group field %q", field)
	}

	var rows []struct {
		GroupKey string
		Total    int64
	}
	err := a.retry(ctx, "asset.count_by", func(tx *gorm.DB) error {
		return tx.Model(&model.Asset{}).
			Select(field + " AS group_key, COUNT(*) AS total").
			Group(field).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.GroupKey] = row.Total
	}
	return counts, nil
}

// LowestHealth 健康分最低的资产
func (a *AssetDB) LowestHealth(ctx context.Context, below float64, limit int) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := a.retry(ctx, "asset.lowest_health", func(tx *gorm.DB) error {
		return tx.Where("health_score < ?", below).
			Order("health_score ASC").
			Limit(limit).
			Find(&assets).Error
	})
	return assets, err
}

// SetNextMaintenance 设置下次计划维护时间，nil 表示取消
func (a *AssetDB) SetNextMaintenance(ctx context.Context, id string, next *time.Time) error {
	return a.retry(ctx, "asset.set_next_maintenance", func(tx *gorm.DB) error {
		res := tx.Model(&model.Asset{}).Where("id = ?", id).Update("next_maintenance", next)
		if res.Error != nil {
			return fmt.Errorf("更新计划维护时间失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("asset", id)
		}
		return nil
	})
}
