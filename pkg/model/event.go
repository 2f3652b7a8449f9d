package model

import "time"

// EventType 推送事件类型
type EventType string

const (
	EventAlert        EventType = "alert"
	EventMetricUpdate EventType = "metric_update"
)

// 告警事件动作
const (
	ActionCreated      = "created"
	ActionUpdated      = "updated"
	ActionAcknowledged = "acknowledged"
	ActionResolved     = "resolved"
)

// Event 推送给前端和消息总线的事件 {type, data}
type Event struct {
	Type   EventType `json:"type"`
	Action string    `json:"action,omitempty"`
	Data   any       `json:"data"`
}

// MetricUpdate metric_update 事件数据
type MetricUpdate struct {
	AssetID     string     `json:"asset_id"`
	MetricID    string     `json:"metric_id"`
	MetricType  MetricType `json:"metric_type"`
	Value       float64    `json:"value"`
	Unit        string     `json:"unit"`
	Timestamp   time.Time  `json:"timestamp"`
	HealthScore *float64   `json:"health_score,omitempty"`
}

// AlertEvent 构造告警事件
func AlertEvent(action string, alert *Alert) Event {
	return Event{Type: EventAlert, Action: action, Data: alert}
}
