package model

import "time"

// HealthRecord 健康分历史，供预测性维护使用
type HealthRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AssetID    string    `gorm:"type:varchar(36);not null;index:idx_health_asset_time,priority:1" json:"asset_id"`
	Score      float64   `gorm:"not null" json:"score"`
	ComputedAt time.Time `gorm:"not null;index:idx_health_asset_time,priority:2" json:"computed_at"`
}

func (HealthRecord) TableName() string {
	return "health_records"
}
