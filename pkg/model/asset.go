package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssetType 资产类型
type AssetType string

const (
	AssetTypeFinancial     AssetType = "financial"
	AssetTypeManufacturing AssetType = "manufacturing"
)

// Valid 是否为已知资产类型
func (t AssetType) Valid() bool {
	switch t {
	case AssetTypeFinancial, AssetTypeManufacturing:
		return true
	}
	return false
}

// AssetStatus 资产状态
type AssetStatus string

const (
	AssetStatusActive      AssetStatus = "active"
	AssetStatusInactive    AssetStatus = "inactive"
	AssetStatusMaintenance AssetStatus = "maintenance"
	AssetStatusFailed      AssetStatus = "failed"
)

func (s AssetStatus) Valid() bool {
	switch s {
	case AssetStatusActive, AssetStatusInactive, AssetStatusMaintenance, AssetStatusFailed:
		return true
	}
	return false
}

// Asset 被监控资产：金融标的或生产设备
type Asset struct {
	ID          string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string      `gorm:"type:varchar(100);not null;index" json:"name"`
	Description string      `gorm:"type:text" json:"description,omitempty"`
	AssetType   AssetType   `gorm:"type:varchar(20);not null;index" json:"asset_type"`
	Status      AssetStatus `gorm:"type:varchar(20);not null;default:active;index" json:"status"`
	Location    string      `gorm:"type:varchar(200)" json:"location,omitempty"`

	// 金融资产字段
	Symbol        string   `gorm:"type:varchar(20);index" json:"symbol,omitempty"`
	CurrentPrice  *float64 `json:"current_price,omitempty"`
	Quantity      *float64 `json:"quantity,omitempty"`
	PurchasePrice *float64 `json:"purchase_price,omitempty"`

	// 设备字段
	Model            string     `gorm:"type:varchar(100)" json:"model,omitempty"`
	SerialNumber     string     `gorm:"type:varchar(100)" json:"serial_number,omitempty"`
	Manufacturer     string     `gorm:"type:varchar(100)" json:"manufacturer,omitempty"`
	InstallationDate *time.Time `json:"installation_date,omitempty"`
	LastMaintenance  *time.Time `json:"last_maintenance,omitempty"`
	NextMaintenance  *time.Time `gorm:"index" json:"next_maintenance,omitempty"`

	HealthScore      float64    `gorm:"default:100" json:"health_score"`
	HealthUpdatedAt  *time.Time `json:"health_updated_at,omitempty"`
	UptimePercentage float64    `gorm:"default:100" json:"uptime_percentage"`
	Tags             []string   `gorm:"serializer:json" json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

func (Asset) TableName() string {
	return "assets"
}

// Value 当前持仓价值，非金融资产或缺少价格时返回0
func (a *Asset) Value() float64 {
	if a.AssetType != AssetTypeFinancial || a.CurrentPrice == nil || a.Quantity == nil {
		return 0
	}
	return *a.CurrentPrice * *a.Quantity
}
