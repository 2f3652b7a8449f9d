package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertSeverity 告警严重程度
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Rank 严重程度排序值，critical 最高
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

func (s AlertSeverity) Valid() bool { return s.Rank() > 0 }

// AlertStatus 告警状态
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	}
	return false
}

// Unresolved 未解决的告警（open 或 acknowledged）
func (s AlertStatus) Unresolved() bool {
	return s == AlertStatusOpen || s == AlertStatusAcknowledged
}

// CanTransition 状态机: open -> acknowledged -> resolved, open -> resolved
func CanTransition(from, to AlertStatus) bool {
	switch from {
	case AlertStatusOpen:
		return to == AlertStatusAcknowledged || to == AlertStatusResolved
	case AlertStatusAcknowledged:
		return to == AlertStatusResolved
	}
	return false
}

// 条件类型
const (
	ConditionHealthScore    = "health_score"
	ConditionMaintenanceDue = "maintenance_due"
)

// ConditionForMetric 指标阈值对应的条件类型
func ConditionForMetric(metricType MetricType) string {
	if metricType == MetricHealthScore {
		return ConditionHealthScore
	}
	return "threshold:" + string(metricType)
}

// Alert 告警。同一 (asset_id, condition) 最多存在一条未解决告警
type Alert struct {
	ID              string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	AssetID         string        `gorm:"type:varchar(36);not null;index:idx_alerts_asset_condition,priority:1" json:"asset_id"`
	Condition       string        `gorm:"column:condition_kind;type:varchar(50);not null;index:idx_alerts_asset_condition,priority:2" json:"condition"`
	Title           string        `gorm:"type:varchar(200);not null" json:"title"`
	Description     string        `gorm:"type:text" json:"description"`
	Severity        AlertSeverity `gorm:"type:varchar(20);not null;index" json:"severity"`
	Status          AlertStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	MetricType      MetricType    `gorm:"type:varchar(30)" json:"metric_type,omitempty"`
	ThresholdValue  float64       `json:"threshold_value"`
	ActualValue     float64       `json:"actual_value"`
	Occurrences     int           `gorm:"default:1" json:"occurrences"`
	LastSeenAt      time.Time     `json:"last_seen_at"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string        `gorm:"type:varchar(100)" json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	ResolutionNotes string        `gorm:"type:text" json:"resolution_notes,omitempty"`
	CreatedAt       time.Time     `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

func (Alert) TableName() string {
	return "alerts"
}

// AlertFilter 告警列表过滤条件
type AlertFilter struct {
	Status   AlertStatus
	Severity AlertSeverity
	AssetID  string
	Start    *time.Time
	End      *time.Time
	Limit    int
	Offset   int
}

// AlertSummary 告警统计
type AlertSummary struct {
	Total       int64            `json:"total"`
	BySeverity  map[string]int64 `json:"by_severity"`
	ByStatus    map[string]int64 `json:"by_status"`
	ByAssetType map[string]int64 `json:"by_asset_type"`
}
