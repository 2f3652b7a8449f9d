package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/dashboard"
	"AssetRadar/pkg/database"
	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
	"AssetRadar/pkg/trend"
)

const (
	defaultLimit     = 100
	maxLimit         = 500
	defaultDaysAhead = 30
	realtimeWindow   = 5 * time.Minute
	attentionBelow   = 70
)

// AssetStore 资产读写
type AssetStore interface {
	Create(ctx context.Context, asset *model.Asset) error
	Get(ctx context.Context, id string) (*model.Asset, error)
	List(ctx context.Context, filter database.AssetFilter) ([]*model.Asset, error)
	Stats(ctx context.Context) (database.AssetStats, error)
	CountBy(ctx context.Context, field string) (map[string]int64, error)
	LowestHealth(ctx context.Context, below float64, limit int) ([]*model.Asset, error)
}

// MetricReader 指标查询
type MetricReader interface {
	Query(ctx context.Context, q database.MetricQuery) ([]*model.Metric, error)
	Since(ctx context.Context, since time.Time, limit int) ([]*model.Metric, error)
}

// AlertReader 告警查询
type AlertReader interface {
	Get(ctx context.Context, id string) (*model.Alert, error)
	List(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error)
	Summary(ctx context.Context) (*model.AlertSummary, error)
}

// Ingester 指标写入流水线
type Ingester interface {
	Ingest(ctx context.Context, in engine.MetricInput) (*model.Metric, error)
	IngestBatch(ctx context.Context, inputs []engine.MetricInput) []engine.BatchResult
}

// AlertActions 告警人工操作
type AlertActions interface {
	Acknowledge(ctx context.Context, alertID, by string) (*model.Alert, error)
	BulkAcknowledge(ctx context.Context, alertIDs []string, by string) []engine.AckResult
	Resolve(ctx context.Context, alertID, notes string) (*model.Alert, error)
}

// TrendService 趋势与预测
type TrendService interface {
	Trend(ctx context.Context, assetID, metricType, period string) (*trend.Series, error)
	Stats(ctx context.Context, assetID, metricType, period string) (*trend.Summary, error)
	PredictiveMaintenance(ctx context.Context, daysAhead int) ([]trend.Prediction, error)
}

// Simulator 生成模拟历史读数
type Simulator interface {
	History(asset *model.Asset, end time.Time, duration, interval time.Duration) []engine.MetricInput
}

// Dashboard 仪表盘快照
type Dashboard interface {
	Stats() dashboard.Stats
	Snapshot() *dashboard.Snapshot
	MarkDirty()
}

// Deps 处理程序依赖
type Deps struct {
	Assets    AssetStore
	Metrics   MetricReader
	Alerts    AlertReader
	Ingester  Ingester
	Actions   AlertActions
	Trends    TrendService
	Dashboard Dashboard
	Simulator Simulator
	Monitor   *monitor.Monitor
}

// Handlers API处理程序
type Handlers struct {
	Deps
	log *zap.Logger
}

// NewHandlers 创建新的API处理程序
func NewHandlers(deps Deps, log *zap.Logger) *Handlers {
	return &Handlers{Deps: deps, log: log}
}

// HealthCheck 健康检查处理程序
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessCheck 就绪检查，所有已注册组件健康时返回 200
func (h *Handlers) ReadinessCheck(c *gin.Context) {
	if h.Monitor == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	components := h.Monitor.GetAllStatus()
	if !h.Monitor.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}

// CreateAssetRequest 创建资产请求
type CreateAssetRequest struct {
	Name             string          `json:"name" binding:"required"`
	Description      string          `json:"description"`
	AssetType        model.AssetType `json:"asset_type" binding:"required"`
	Location         string          `json:"location"`
	Symbol           string          `json:"symbol"`
	CurrentPrice     *float64        `json:"current_price"`
	Quantity         *float64        `json:"quantity"`
	PurchasePrice    *float64        `json:"purchase_price"`
	Model            string          `json:"model"`
	SerialNumber     string          `json:"serial_number"`
	Manufacturer     string          `json:"manufacturer"`
	InstallationDate *time.Time      `json:"installation_date"`
	NextMaintenance  *time.Time      `json:"next_maintenance"`
	Tags             []string        `json:"tags"`
}

// CreateAsset 创建资产
func (h *Handlers) CreateAsset(c *gin.Context) {
	var req CreateAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("body", err))
		return
	}
	if !req.AssetType.Valid() {
		h.fail(c, apperr.Validation("asset_type", "must be financial or manufacturing"))
		return
	}

	asset := &model.Asset{
		Name:             strings.TrimSpace(req.Name),
		Description:      req.Description,
		AssetType:        req.AssetType,
		Location:         req.Location,
		Symbol:           strings.ToUpper(req.Symbol),
		CurrentPrice:     req.CurrentPrice,
		Quantity:         req.Quantity,
		PurchasePrice:    req.PurchasePrice,
		Model:            req.Model,
		SerialNumber:     req.SerialNumber,
		Manufacturer:     req.Manufacturer,
		InstallationDate: req.InstallationDate,
		NextMaintenance:  req.NextMaintenance,
		Tags:             req.Tags,
	}
	if err := h.Assets.Create(c.Request.Context(), asset); err != nil {
		h.fail(c, err)
		return
	}
	h.Dashboard.MarkDirty()
	c.JSON(http.StatusCreated, asset)
}

// ListAssets 资产列表
func (h *Handlers) ListAssets(c *gin.Context) {
	limit, offset, err := pagination(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	filter := database.AssetFilter{
		AssetType: model.AssetType(c.Query("asset_type")),
		Status:    model.AssetStatus(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	}
	if filter.AssetType != "" && !filter.AssetType.Valid() {
		h.fail(c, apperr.Validation("asset_type", "unknown asset type %q", filter.AssetType))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.fail(c, apperr.Validation("status", "unknown status %q", filter.Status))
		return
	}

	assets, err := h.Assets.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

// GetAsset 资产详情
func (h *Handlers) GetAsset(c *gin.Context) {
	asset, err := h.Assets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// IngestMetric 写入单条指标，资产 ID 取自路径
func (h *Handlers) IngestMetric(c *gin.Context) {
	var in engine.MetricInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, badRequest("body", err))
		return
	}
	in.AssetID = c.Param("id")

	metric, err := h.Ingester.Ingest(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, metric)
}

// BatchRequest 批量写入请求
type BatchRequest struct {
	Metrics []engine.MetricInput `json:"metrics" binding:"required"`
}

// IngestBatch 批量写入，单条失败不影响其他记录
func (h *Handlers) IngestBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("body", err))
		return
	}
	if len(req.Metrics) > maxLimit*2 {
		h.fail(c, apperr.Validation("metrics", "at most %d metrics per batch", maxLimit*2))
		return
	}

	results := h.Ingester.IngestBatch(c.Request.Context(), req.Metrics)
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// SimulateAsset 为资产生成一段模拟历史读数并写入流水线
func (h *Handlers) SimulateAsset(c *gin.Context) {
	ctx := c.Request.Context()
	hours, err := queryInt(c, "duration_hours", 24, 1, 168)
	if err != nil {
		h.fail(c, err)
		return
	}
	minutes, err := queryInt(c, "interval_minutes", 5, 1, 60)
	if err != nil {
		h.fail(c, err)
		return
	}
	asset, err := h.Assets.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	inputs := h.Simulator.History(asset, time.Now().UTC(), time.Duration(hours)*time.Hour, time.Duration(minutes)*time.Minute)
	created := 0
	for _, r := range h.Ingester.IngestBatch(ctx, inputs) {
		if r.Success {
			created++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         fmt.Sprintf("simulated %d metrics", created),
		"metrics_created": created,
	})
}

// ListMetrics 资产指标历史，按时间倒序
func (h *Handlers) ListMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	assetID := c.Param("id")
	if _, err := h.Assets.Get(ctx, assetID); err != nil {
		h.fail(c, err)
		return
	}

	limit, _, err := pagination(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	start, err := queryTime(c, "start")
	if err != nil {
		h.fail(c, err)
		return
	}
	end, err := queryTime(c, "end")
	if err != nil {
		h.fail(c, err)
		return
	}

	metrics, err := h.Metrics.Query(ctx, database.MetricQuery{
		AssetID:    assetID,
		MetricType: model.MetricType(c.Query("metric_type")),
		Start:      start,
		End:        end,
		Limit:      limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// HealthOverview 资产健康概览
func (h *Handlers) HealthOverview(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.Assets.Stats(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	byStatus, err := h.Assets.CountBy(ctx, "status")
	if err != nil {
		h.fail(c, err)
		return
	}
	byType, err := h.Assets.CountBy(ctx, "asset_type")
	if err != nil {
		h.fail(c, err)
		return
	}
	attention, err := h.Assets.LowestHealth(ctx, attentionBelow, 50)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_assets":             stats.Total,
		"avg_health_score":         stats.AvgHealthScore,
		"by_status":                byStatus,
		"by_type":                  byType,
		"assets_needing_attention": attention,
	})
}

// Realtime 最近 5 分钟的指标
func (h *Handlers) Realtime(c *gin.Context) {
	since := time.Now().UTC().Add(-realtimeWindow)
	metrics, err := h.Metrics.Since(c.Request.Context(), since, maxLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"since":   since,
		"count":   len(metrics),
		"metrics": metrics,
	})
}

// Trend 资产指标趋势，空桶的 value 为 null
func (h *Handlers) Trend(c *gin.Context) {
	series, err := h.Trends.Trend(c.Request.Context(), c.Param("assetId"), c.DefaultQuery("metric_type", "temperature"), c.Query("period"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, series.Points())
}

// TrendStats 趋势统计与异常点
func (h *Handlers) TrendStats(c *gin.Context) {
	summary, err := h.Trends.Stats(c.Request.Context(), c.Param("assetId"), c.DefaultQuery("metric_type", "temperature"), c.Query("period"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// PredictiveMaintenance 预测性维护列表
func (h *Handlers) PredictiveMaintenance(c *gin.Context) {
	days := defaultDaysAhead
	if raw := c.Query("days_ahead"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(c, badRequest("days_ahead", err))
			return
		}
		days = n
	}

	predictions, err := h.Trends.PredictiveMaintenance(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, predictions)
}

// ListAlerts 告警列表，按创建时间倒序
func (h *Handlers) ListAlerts(c *gin.Context) {
	limit, offset, err := pagination(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	filter := model.AlertFilter{
		Status:   model.AlertStatus(c.Query("status")),
		Severity: model.AlertSeverity(c.Query("severity")),
		AssetID:  c.Query("asset_id"),
		Limit:    limit,
		Offset:   offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.fail(c, apperr.Validation("status", "unknown status %q", filter.Status))
		return
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		h.fail(c, apperr.Validation("severity", "unknown severity %q", filter.Severity))
		return
	}
	if filter.Start, err = queryTime(c, "start"); err != nil {
		h.fail(c, err)
		return
	}
	if filter.End, err = queryTime(c, "end"); err != nil {
		h.fail(c, err)
		return
	}

	alerts, err := h.Alerts.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// GetAlert 告警详情
func (h *Handlers) GetAlert(c *gin.Context) {
	alert, err := h.Alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// AcknowledgeRequest 确认告警请求
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// AcknowledgeAlert 确认单条告警，已解决的告警返回 409
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	var req AcknowledgeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	alert, err := h.Actions.Acknowledge(c.Request.Context(), c.Param("id"), actor(req.AcknowledgedBy))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.Dashboard.MarkDirty()
	c.JSON(http.StatusOK, alert)
}

// BulkAcknowledgeRequest 批量确认请求
type BulkAcknowledgeRequest struct {
	AlertIDs       []string `json:"alert_ids" binding:"required"`
	AcknowledgedBy string   `json:"acknowledged_by"`
}

// BulkAcknowledge 批量确认，返回每条告警的结果
func (h *Handlers) BulkAcknowledge(c *gin.Context) {
	var req BulkAcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("body", err))
		return
	}
	if len(req.AlertIDs) > maxLimit {
		h.fail(c, apperr.Validation("alert_ids", "at most %d ids per request", maxLimit))
		return
	}

	results := h.Actions.BulkAcknowledge(c.Request.Context(), req.AlertIDs, actor(req.AcknowledgedBy))
	acknowledged := 0
	for _, r := range results {
		if r.Success {
			acknowledged++
		}
	}
	h.Dashboard.MarkDirty()
	c.JSON(http.StatusOK, gin.H{
		"results":      results,
		"acknowledged": acknowledged,
		"failed":       len(results) - acknowledged,
	})
}

// ResolveRequest 解决告警请求
type ResolveRequest struct {
	ResolutionNotes string `json:"resolution_notes"`
}

// ResolveAlert 人工解决告警
func (h *Handlers) ResolveAlert(c *gin.Context) {
	var req ResolveRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	alert, err := h.Actions.Resolve(c.Request.Context(), c.Param("id"), req.ResolutionNotes)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.Dashboard.MarkDirty()
	c.JSON(http.StatusOK, alert)
}

// AlertSummary 告警分类统计
func (h *Handlers) AlertSummary(c *gin.Context) {
	summary, err := h.Alerts.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DashboardStats 仪表盘统计，读取快照不访问数据库
func (h *Handlers) DashboardStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dashboard.Stats())
}

// DashboardOverview 仪表盘概览
func (h *Handlers) DashboardOverview(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dashboard.Snapshot())
}

func pagination(c *gin.Context) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			return 0, 0, apperr.Validation("limit", "must be a positive integer")
		}
		limit = min(limit, maxLimit)
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, apperr.Validation("offset", "must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func queryInt(c *gin.Context, key string, def, lo, hi int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, apperr.Validation(key, "must be an integer between %d and %d", lo, hi)
	}
	return n, nil
}

func queryTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Validation(key, "must be an RFC3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

// bindOptionalJSON 请求体可以为空
func bindOptionalJSON(c *gin.Context, dest any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		return badRequest("body", err)
	}
	return nil
}

func actor(by string) string {
	if by = strings.TrimSpace(by); by != "" {
		return by
	}
	return "system"
}
