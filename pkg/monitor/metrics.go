package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 流水线 Prometheus 指标
type Metrics struct {
	MetricsIngested   *prometheus.CounterVec
	IngestFailures    *prometheus.CounterVec
	AlertTransitions  *prometheus.CounterVec
	InsufficientData  prometheus.Counter
	RecomputeDuration prometheus.Histogram
	TrendDuration     *prometheus.HistogramVec
	DashboardRefresh  *prometheus.CounterVec
	PushClients       prometheus.Gauge
}

// NewMetrics 创建并注册指标，reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MetricsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetradar",
			Name:      "metrics_ingested_total",
			Help:      "Metrics accepted by the ingestion buffer.",
		}, []string{"metric_type"}),
		IngestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetradar",
			Name:      "ingest_failures_total",
			Help:      "Metrics rejected or failed during ingestion.",
		}, []string{"reason"}),
		AlertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetradar",
			Name:      "alert_transitions_total",
			Help:      "Alert lifecycle events by action and severity.",
		}, []string{"action", "severity"}),
		InsufficientData: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetradar",
			Name:      "health_insufficient_data_total",
			Help:      "Score recomputations skipped for lack of samples.",
		}),
		RecomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assetradar",
			Name:      "health_recompute_seconds",
			Help:      "Health score recomputation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		TrendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assetradar",
			Name:      "trend_query_seconds",
			Help:      "Trend aggregation latency by period.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"period"}),
		DashboardRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetradar",
			Name:      "dashboard_refresh_total",
			Help:      "Dashboard snapshot refreshes by result.",
		}, []string{"result"}),
		PushClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "assetradar",
			Name:      "push_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MetricsIngested,
			m.IngestFailures,
			m.AlertTransitions,
			m.InsufficientData,
			m.RecomputeDuration,
			m.TrendDuration,
			m.DashboardRefresh,
			m.PushClients,
		)
	}
	return m
}
