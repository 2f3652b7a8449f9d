package database

import (
	"context"
	"time"

	"gorm.io/gorm"

	"AssetRadar/pkg/model"
)

type HealthDB struct {
	*DB
}

func (d *DB) Health() *HealthDB {
	return &HealthDB{DB: d}
}

// History 资产健康分历史，按时间正序
func (h *HealthDB) History(ctx context.Context, assetID string, since time.Time) ([]*model.HealthRecord, error) {
	var records []*model.HealthRecord
	err := h.retry(ctx, "health.history", func(tx *gorm.DB) error {
		return tx.Where("asset_id = ? AND computed_at >= ?", assetID, since).
			Order("computed_at ASC").
			Find(&records).Error
	})
	return records, err
}
