package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTemperature    MetricType = "temperature"
	MetricVibration      MetricType = "vibration"
	MetricPressure       MetricType = "pressure"
	MetricVoltage        MetricType = "voltage"
	MetricCurrent        MetricType = "current"
	MetricStockPrice     MetricType = "stock_price"
	MetricPortfolioValue MetricType = "portfolio_value"
	MetricRiskScore      MetricType = "risk_score"

	// MetricHealthScore 健康分条件，不作为原始指标写入
	MetricHealthScore MetricType = "health_score"
)

var defaultUnits = map[MetricType]string{
	MetricTemperature:    "°C",
	MetricVibration:      "mm/s",
	MetricPressure:       "psi",
	MetricVoltage:        "V",
	MetricCurrent:        "A",
	MetricStockPrice:     "USD",
	MetricPortfolioValue: "USD",
	MetricRiskScore:      "pts",
}

// Known 是否为可写入的指标类型
func (m MetricType) Known() bool {
	_, ok := defaultUnits[m]
	return ok
}

// DefaultUnit 指标默认单位
func (m MetricType) DefaultUnit() string {
	return defaultUnits[m]
}

// IsPrice 价格类指标按涨跌幅评估
func (m MetricType) IsPrice() bool {
	return m == MetricStockPrice || m == MetricPortfolioValue
}

// Metric 单条时序指标，写入后不可变
type Metric struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	AssetID    string         `gorm:"type:varchar(36);not null;index:idx_metrics_asset_time,priority:1" json:"asset_id"`
	MetricType MetricType     `gorm:"type:varchar(30);not null;index" json:"metric_type"`
	Value      float64        `gorm:"not null" json:"value"`
	Unit       string         `gorm:"type:varchar(20)" json:"unit"`
	Timestamp  time.Time      `gorm:"not null;index:idx_metrics_asset_time,priority:2" json:"timestamp"`
	Metadata   map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (m *Metric) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (Metric) TableName() string {
	return "metrics"
}
