package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"AssetRadar/pkg/database"
	"AssetRadar/pkg/database/dbtest"
	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
)

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()

	healthy := &model.Asset{Name: "pump", AssetType: model.AssetTypeManufacturing}
	weak := &model.Asset{Name: "press", AssetType: model.AssetTypeManufacturing}
	stock := &model.Asset{Name: "ACME", AssetType: model.AssetTypeFinancial}
	for _, a := range []*model.Asset{healthy, weak, stock} {
		require.NoError(t, db.Asset().Create(ctx, a))
	}
	require.NoError(t, db.Asset().UpdateHealth(ctx, weak.ID, 40, model.AssetStatusMaintenance, time.Now().UTC()))

	require.NoError(t, db.Alert().Create(ctx, &model.Alert{
		AssetID: weak.ID, Condition: "threshold:temperature", Title: "t",
		Severity: model.SeverityCritical, Status: model.AlertStatusOpen, LastSeenAt: time.Now(),
	}))
	require.NoError(t, db.Alert().Create(ctx, &model.Alert{
		AssetID: weak.ID, Condition: "health_score", Title: "h",
		Severity: model.SeverityHigh, Status: model.AlertStatusResolved, LastSeenAt: time.Now(),
	}))
}

func TestAggregator_EmptyBeforeRefresh(t *testing.T) {
	db := dbtest.New(t)
	agg := NewAggregator(db.Asset(), db.Alert(), nil, zap.NewNop())

	snap := agg.Snapshot()
	require.NotNil(t, snap)
	assert.Zero(t, snap.Stats.TotalAssets)
	assert.NotNil(t, snap.RecentAlerts)
}

func TestAggregator_Refresh(t *testing.T) {
	db := dbtest.New(t)
	seed(t, db)
	prom := monitor.NewMetrics(nil)
	agg := NewAggregator(db.Asset(), db.Alert(), prom, zap.NewNop())

	require.NoError(t, agg.Refresh(context.Background()))

	s := agg.Stats()
	assert.Equal(t, int64(3), s.TotalAssets)
	assert.Equal(t, int64(2), s.ActiveAssets)
	assert.Equal(t, int64(1), s.OpenAlerts)
	assert.Equal(t, int64(2), s.TotalAlerts)
	assert.Equal(t, int64(1), s.CriticalAlerts)
	assert.InDelta(t, 80.0, s.AvgHealthScore, 0.01)
	assert.False(t, s.UpdatedAt.IsZero())

	snap := agg.Snapshot()
	assert.Equal(t, int64(2), snap.AssetsByType["manufacturing"])
	assert.Equal(t, int64(1), snap.AssetsByStatus["maintenance"])
	require.Len(t, snap.AtRiskAssets, 1)
	assert.Equal(t, "press", snap.AtRiskAssets[0].Name)
	assert.Len(t, snap.RecentAlerts, 2)

	assert.InDelta(t, 1.0, testutil.ToFloat64(prom.DashboardRefresh.WithLabelValues("ok")), 1e-9)
}

type failingAlerts struct{}

func (failingAlerts) Counts(context.Context) (database.AlertCounts, error) {
	return database.AlertCounts{}, errors.New("boom")
}

func (failingAlerts) List(context.Context, model.AlertFilter) ([]*model.Alert, error) {
	return nil, nil
}

func TestAggregator_FailedRefreshKeepsSnapshot(t *testing.T) {
	db := dbtest.New(t)
	seed(t, db)
	prom := monitor.NewMetrics(nil)

	good := NewAggregator(db.Asset(), db.Alert(), prom, zap.NewNop())
	require.NoError(t, good.Refresh(context.Background()))
	before := good.Snapshot()

	good.alerts = failingAlerts{}
	require.Error(t, good.Refresh(context.Background()))
	assert.Same(t, before, good.Snapshot())
	assert.InDelta(t, 1.0, testutil.ToFloat64(prom.DashboardRefresh.WithLabelValues("error")), 1e-9)
}

func TestAggregator_RunCoalescesHints(t *testing.T) {
	db := dbtest.New(t)
	prom := monitor.NewMetrics(nil)
	agg := NewAggregator(db.Asset(), db.Alert(), prom, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx, 20*time.Millisecond)

	for i := 0; i < 100; i++ {
		agg.MarkDirty()
	}
	require.Eventually(t, func() bool {
		return !agg.Stats().UpdatedAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	refreshes := testutil.ToFloat64(prom.DashboardRefresh.WithLabelValues("ok"))
	assert.GreaterOrEqual(t, refreshes, 1.0)
	assert.LessOrEqual(t, refreshes, 2.0)
}
