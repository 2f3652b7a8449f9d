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

var unresolvedStatuses = []model.AlertStatus{model.AlertStatusOpen, model.AlertStatusAcknowledged}

type AlertDB struct {
	*DB
}

func (d *DB) Alert() *AlertDB {
	return &AlertDB{DB: d}
}

// AlertCounts 仪表盘告警计数
type AlertCounts struct {
	Total    int64 `json:"total"`
	Open     int64 `json:"open"`
	Critical int64 `json:"critical"`
}

// AlertTouch 重复触发时更新的字段
type AlertTouch struct {
	Severity       model.AlertSeverity
	ThresholdValue float64
	ActualValue    float64
	Description    string
	SeenAt         time.Time
}

func (a *AlertDB) Create(ctx context.Context, alert *model.Alert) error {
	return a.retry(ctx, "alert.create", func(tx *gorm.DB) error {
		if err := tx.Create(alert).Error; err != nil {
			return fmt.Errorf("保存告警失败: %w", err)
		}
		return nil
	})
}

func (a *AlertDB) Get(ctx context.Context, id string) (*model.Alert, error) {
	var alert model.Alert
	err := a.retry(ctx, "alert.get", func(tx *gorm.DB) error {
		return tx.First(&alert, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("alert", id)
		}
		return nil, err
	}
	return &alert, nil
}

// FindUnresolved 查找 (asset, condition) 的未解决告警，不存在时返回 nil
func (a *AlertDB) FindUnresolved(ctx context.Context, assetID, condition string) (*model.Alert, error) {
	var alert model.Alert
	err := a.retry(ctx, "alert.find_unresolved", func(tx *gorm.DB) error {
		return tx.Where("asset_id = ? AND condition_kind = ? AND status IN ?", assetID, condition, unresolvedStatuses).
			Order("created_at DESC").
			First(&alert).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &alert, nil
}

// Touch 更新未解决告警的最新观测值。告警已被解决时返回 nil
func (a *AlertDB) Touch(ctx context.Context, id string, touch AlertTouch) (*model.Alert, error) {
	var updated bool
	err := a.retry(ctx, "alert.touch", func(tx *gorm.DB) error {
		res := tx.Model(&model.Alert{}).
			Where("id = ? AND status IN ?", id, unresolvedStatuses).
			Updates(map[string]any{
				"severity":        touch.Severity,
				"threshold_value": touch.ThresholdValue,
				"actual_value":    touch.ActualValue,
				"description":     touch.Description,
				"last_seen_at":    touch.SeenAt,
				"occurrences":     gorm.Expr("occurrences + 1"),
			})
		updated = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return nil, fmt.Errorf("更新告警失败: %w", err)
	}
	if !updated {
		return nil, nil
	}
	return a.Get(ctx, id)
}

// Resolve 将告警置为 resolved。已解决的告警返回 changed=false，不报错
func (a *AlertDB) Resolve(ctx context.Context, id, notes string, at time.Time) (*model.Alert, bool, error) {
	var changed bool
	err := a.retry(ctx, "alert.resolve", func(tx *gorm.DB) error {
		res := tx.Model(&model.Alert{}).
			Where("id = ? AND status IN ?", id, unresolvedStatuses).
			Updates(map[string]any{
				"status":           model.AlertStatusResolved,
				"resolved_at":      at,
				"resolution_notes": notes,
			})
		changed = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return nil, false, err
	}

	alert, err := a.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return alert, changed, nil
}

// Acknowledge open -> acknowledged。已确认的告警视为成功且 changed=false，
// 已解决的告警返回 ErrInvalidTransition
func (a *AlertDB) Acknowledge(ctx context.Context, id, by string, at time.Time) (*model.Alert, bool, error) {
	var changed bool
	err := a.retry(ctx, "alert.acknowledge", func(tx *gorm.DB) error {
		res := tx.Model(&model.Alert{}).
			Where("id = ? AND status = ?", id, model.AlertStatusOpen).
			Updates(map[string]any{
				"status":          model.AlertStatusAcknowledged,
				"acknowledged_at": at,
				"acknowledged_by": by,
			})
		changed = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return nil, false, err
	}

	alert, err := a.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if alert.Status == model.AlertStatusResolved {
		return alert, false, fmt.Errorf("告警 %s 已解决: %w", id, apperr.ErrInvalidTransition)
	}
	return alert, changed, nil
}

func (a *AlertDB) List(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	alerts := make([]*model.Alert, 0)
	err := a.retry(ctx, "alert.list", func(tx *gorm.DB) error {
		query := tx.Model(&model.Alert{})
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Severity != "" {
			query = query.Where("severity = ?", filter.Severity)
		}
		if filter.AssetID != "" {
			query = query.Where("asset_id = ?", filter.AssetID)
		}
		if filter.Start != nil {
			query = query.Where("created_at >= ?", *filter.Start)
		}
		if filter.End != nil {
			query = query.Where("created_at <= ?", *filter.End)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
		return query.Order("created_at DESC").Find(&alerts).Error
	})
	if err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	return alerts, nil
}

func (a *AlertDB) Counts(ctx context.Context) (AlertCounts, error) {
	var counts AlertCounts
	err := a.retry(ctx, "alert.counts", func(tx *gorm.DB) error {
		return tx.Model(&model.Alert{}).
			Select("COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS open, "+
				"COALESCE(SUM(CASE WHEN severity = ? AND status IN ? THEN 1 ELSE 0 END), 0) AS critical",
				model.AlertStatusOpen, model.SeverityCritical, unresolvedStatuses).
			Scan(&counts).Error
	})
	return counts, err
}

// Summary 按严重程度、状态和资产类型统计告警
func (a *AlertDB) Summary(ctx context.Context) (*model.AlertSummary, error) {
	summary := &model.AlertSummary{
		BySeverity:  make(map[string]int64),
		ByStatus:    make(map[string]int64),
		ByAssetType: make(map[string]int64),
	}

	type row struct {
		GroupKey string
		Total    int64
	}

	err := a.retry(ctx, "alert.summary", func(tx *gorm.DB) error {
		var severity, status, assetType []row
		if err := tx.Model(&model.Alert{}).
			Select("severity AS group_key, COUNT(*) AS total").
			Group("severity").Scan(&severity).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Alert{}).
			Select("status AS group_key, COUNT(*) AS total").
			Group("status").Scan(&status).Error; err != nil {
			return err
		}
		if err := tx.Table("alerts").
			Select("assets.asset_type AS group_key, COUNT(*) AS total").
			Joins("JOIN assets ON assets.id = alerts.asset_id").
			Group("assets.asset_type").Scan(&assetType).Error; err != nil {
			return err
		}

		summary.Total = 0
		for _, r := range severity {
			summary.BySeverity[r.GroupKey] = r.Total
			summary.Total += r.Total
		}
		for _, r := range status {
			summary.ByStatus[r.GroupKey] = r.Total
		}
		for _, r := range assetType {
			summary.ByAssetType[r.GroupKey] = r.Total
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("统计告警失败: %w", err)
	}
	return summary, nil
}
