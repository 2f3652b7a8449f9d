package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/collector"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/dashboard"
	"AssetRadar/pkg/database"
	"AssetRadar/pkg/database/dbtest"
	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
	"AssetRadar/pkg/trend"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stack struct {
	handler http.Handler
	db      *database.DB
	dash    *dashboard.Aggregator
}

func newStack(t *testing.T, tweak func(*config.Config)) *stack {
	t.Helper()
	cfg := config.Default()
	if tweak != nil {
		tweak(cfg)
	}
	log := zap.NewNop()
	db := dbtest.New(t)
	reg := prometheus.NewRegistry()
	prom := monitor.NewMetrics(reg)

	rules := engine.NewRuleSet(engine.DefaultRules())
	eval := engine.NewEvaluator(db.Alert(), rules, nil, prom, log)
	pipeline := engine.NewPipeline(db.Asset(), db.Metric(), eval,
		engine.NewScorer(rules, cfg.Monitoring.MinSamples), nil, prom, cfg.Monitoring, log)
	trends := trend.NewService(db.Metric(), db.Asset(), db.Health(), nil, prom, cfg.Monitoring, log)
	dash := dashboard.NewAggregator(db.Asset(), db.Alert(), prom, log)

	mon := monitor.NewMonitor(nil)
	mon.RegisterComponent("database")
	mon.UpdateStatus("database", monitor.StatusHealthy, "")

	h := NewHandlers(Deps{
		Assets:    db.Asset(),
		Metrics:   db.Metric(),
		Alerts:    db.Alert(),
		Ingester:  pipeline,
		Actions:   eval,
		Trends:    trends,
		Dashboard: dash,
		Simulator: collector.NewSimulator(1),
		Monitor:   mon,
	}, log)

	srv := NewServer(cfg, log)
	srv.SetupRoutes(h, nil, reg)
	return &stack{handler: srv.Handler(), db: db, dash: dash}
}

func (s *stack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *stack) createAsset(t *testing.T, name string, assetType model.AssetType) *model.Asset {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/assets", gin.H{"name": name, "asset_type": assetType})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[*model.Asset](t, w)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s := newStack(t, nil)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "assetradar_push_clients")
}

func TestCreateAssetValidation(t *testing.T) {
	s := newStack(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/assets", gin.H{"name": "x", "asset_type": "crypto"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/assets", gin.H{"asset_type": "financial"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/assets/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemperatureBreachOverHTTP(t *testing.T) {
	s := newStack(t, nil)
	asset := s.createAsset(t, "press-1", model.AssetTypeManufacturing)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	for i, v := range []float64{70, 72, 95, 96, 94} {
		w := s.do(t, http.MethodPost, "/api/v1/assets/"+asset.ID+"/metrics", gin.H{
			"metric_type": "temperature",
			"value":       v,
			"timestamp":   base.Add(time.Duration(i) * time.Minute),
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		metric := decode[model.Metric](t, w)
		assert.Equal(t, asset.ID, metric.AssetID)
		assert.Equal(t, "°C", metric.Unit)
	}

	w := s.do(t, http.MethodGet, "/api/v1/alerts?asset_id="+asset.ID+"&severity=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decode[[]model.Alert](t, w)
	require.Len(t, alerts, 1)
	assert.Equal(t, "threshold:temperature", alerts[0].Condition)
	assert.Equal(t, 3, alerts[0].Occurrences)
	assert.InDelta(t, 94.0, alerts[0].ActualValue, 1e-9)

	w = s.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Asset](t, w)
	assert.InDelta(t, 55.0, got.HealthScore, 0.01)
	assert.Equal(t, model.AssetStatusMaintenance, got.Status)

	w = s.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID+"/metrics?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	metrics := decode[[]model.Metric](t, w)
	require.Len(t, metrics, 2)
	assert.InDelta(t, 94.0, metrics[0].Value, 1e-9)
}

func TestSimulateAsset(t *testing.T) {
	s := newStack(t, nil)
	asset := s.createAsset(t, "press-1", model.AssetTypeManufacturing)

	w := s.do(t, http.MethodPost, "/api/v1/assets/"+asset.ID+"/simulate?duration_hours=2&interval_minutes=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		MetricsCreated int `json:"metrics_created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 12, body.MetricsCreated)

	w = s.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID+"/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Metric](t, w), 12)

	w = s.do(t, http.MethodPost, "/api/v1/assets/"+asset.ID+"/simulate?duration_hours=1000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/assets/missing/simulate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestErrors(t *testing.T) {
	s := newStack(t, nil)
	asset := s.createAsset(t, "press-1", model.AssetTypeManufacturing)

	w := s.do(t, http.MethodPost, "/api/v1/assets/unknown/metrics", gin.H{"metric_type": "temperature", "value": 20})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/assets/"+asset.ID+"/metrics", gin.H{"metric_type": "humidity", "value": 20})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/assets/"+asset.ID+"/metrics", gin.H{"metric_type": "temperature"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestBatchReportsPerItem(t *testing.T) {
	s := newStack(t, nil)
	asset := s.createAsset(t, "press-1", model.AssetTypeManufacturing)

	w := s.do(t, http.MethodPost, "/api/v1/metrics/batch", gin.H{"metrics": []gin.H{
		{"asset_id": asset.ID, "metric_type": "temperature", "value": 40},
		{"asset_id": "unknown", "metric_type": "temperature", "value": 40},
		{"asset_id": asset.ID, "metric_type": "vibration", "value": 1.2},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Results   []engine.BatchResult `json:"results"`
		Succeeded int                  `json:"succeeded"`
		Failed    int                  `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Succeeded)
	assert.Equal(t, 1, body.Failed)
	require.Len(t, body.Results, 3)
	assert.False(t, body.Results[1].Success)
	assert.NotEmpty(t, body.Results[1].Error)
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, nil)
	asset := s.createAsset(t, "press-1", model.AssetTypeManufacturing)

	open := make([]string, 0, 2)
	for _, condition := range []string{"threshold:temperature", "threshold:vibration"} {
		alert := &model.Alert{
			AssetID: asset.ID, Condition: condition, Title: condition,
			Severity: model.SeverityHigh, Status: model.AlertStatusOpen, LastSeenAt: time.Now(),
		}
		require.NoError(t, s.db.Alert().Create(ctx, alert))
		open = append(open, alert.ID)
	}

	w := s.do(t, http.MethodPost, "/api/v1/alerts/bulk/acknowledge", gin.H{
		"alert_ids":       append(open, "missing"),
		"acknowledged_by": "operator",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var bulk struct {
		Results      []engine.AckResult `json:"results"`
		Acknowledged int                `json:"acknowledged"`
		Failed       int                `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bulk))
	assert.Equal(t, 2, bulk.Acknowledged)
	assert.Equal(t, 1, bulk.Failed)

	w = s.do(t, http.MethodGet, "/api/v1/alerts/"+open[0], nil)
	require.Equal(t, http.StatusOK, w.Code)
	alert := decode[model.Alert](t, w)
	assert.Equal(t, model.AlertStatusAcknowledged, alert.Status)
	assert.Equal(t, "operator", alert.AcknowledgedBy)

	w = s.do(t, http.MethodPost, "/api/v1/alerts/"+open[0]+"/resolve", gin.H{"resolution_notes": "replaced bearing"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	alert = decode[model.Alert](t, w)
	assert.Equal(t, model.AlertStatusResolved, alert.Status)
	assert.Equal(t, "replaced bearing", alert.ResolutionNotes)

	w = s.do(t, http.MethodPost, "/api/v1/alerts/"+open[0]+"/acknowledge", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/alerts/missing/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/alerts/stats/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[model.AlertSummary](t, w)
	assert.Equal(t, int64(2), summary.Total)
	assert.Equal(t, int64(1), summary.ByStatus["resolved"])

	w = s.do(t, http.MethodGet, "/api/v1/alerts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/alerts?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrendAndPredictiveEndpoints(t *testing.T) {
	s := newStack(t, nil)
	asset := s.createAsset(t, "press-1", model.AssetTypeManufacturing)

	w := s.do(t, http.MethodGet, "/api/v1/monitoring/trends/"+asset.ID+"?metric_type=temperature&period=24h", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	points := decode[[]trend.Point](t, w)
	assert.Len(t, points, 24)

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/trends/"+asset.ID+"?period=1y", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/trends/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/trends/"+asset.ID+"/stats", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/predictive/maintenance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	for _, days := range []string{"0", "366", "soon"} {
		w = s.do(t, http.MethodGet, "/api/v1/monitoring/predictive/maintenance?days_ahead="+days, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, days)
	}
}

func TestDashboardEndpoints(t *testing.T) {
	s := newStack(t, nil)
	s.createAsset(t, "press-1", model.AssetTypeManufacturing)
	s.createAsset(t, "ACME", model.AssetTypeFinancial)

	// 刷新前读取空快照
	w := s.do(t, http.MethodGet, "/api/v1/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[dashboard.Stats](t, w).TotalAssets)

	require.NoError(t, s.dash.Refresh(context.Background()))

	w = s.do(t, http.MethodGet, "/api/v1/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[dashboard.Stats](t, w)
	assert.Equal(t, int64(2), stats.TotalAssets)
	assert.InDelta(t, 100.0, stats.AvgHealthScore, 0.01)

	w = s.do(t, http.MethodGet, "/api/v1/dashboard/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[dashboard.Snapshot](t, w)
	assert.Equal(t, int64(1), snap.AssetsByType["financial"])

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/health/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var overview struct {
		TotalAssets int64            `json:"total_assets"`
		ByType      map[string]int64 `json:"by_type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overview))
	assert.Equal(t, int64(2), overview.TotalAssets)
	assert.Equal(t, int64(1), overview.ByType["manufacturing"])
}

func TestIngestRateLimit(t *testing.T) {
	s := newStack(t, func(cfg *config.Config) {
		cfg.API.IngestRPS = 0.001
		cfg.API.IngestBurst = 1
	})

	w := s.do(t, http.MethodPost, "/api/v1/metrics/batch", gin.H{"metrics": []gin.H{}})
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/metrics/batch", gin.H{"metrics": []gin.H{}})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 读接口不受限
	w = s.do(t, http.MethodGet, "/api/v1/assets", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Validation("value", "required"), http.StatusBadRequest},
		{"unknown asset", &apperr.ValidationError{Field: "asset_id", Message: "unknown", Err: apperr.NotFound("asset", "x")}, http.StatusBadRequest},
		{"not found", apperr.NotFound("alert", "x"), http.StatusNotFound},
		{"transition", fmt.Errorf("ack: %w", apperr.ErrInvalidTransition), http.StatusConflict},
		{"insufficient", &apperr.InsufficientDataError{Have: 1, Need: 5}, http.StatusUnprocessableEntity},
		{"timeout", fmt.Errorf("trend: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"storage", &apperr.StorageError{Op: "metric.save", Err: errors.New("db down")}, http.StatusServiceUnavailable},
		{"canceled", fmt.Errorf("list: %w", context.Canceled), StatusClientClosedRequest},
		{"canceled in storage", &apperr.StorageError{Op: "asset.list", Err: context.Canceled}, StatusClientClosedRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestFail_CanceledIsQuiet(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := &Handlers{log: zap.New(core)}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil)

	h.fail(c, &apperr.StorageError{Op: "asset.list", Err: context.Canceled})
	assert.Equal(t, StatusClientClosedRequest, w.Code)
	assert.Zero(t, logs.Len())

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil)

	h.fail(c, &apperr.StorageError{Op: "asset.list", Err: errors.New("db down")})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("请求处理失败").Len())
}
