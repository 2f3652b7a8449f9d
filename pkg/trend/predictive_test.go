package trend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/database"
	"AssetRadar/pkg/database/dbtest"
	"AssetRadar/pkg/model"
)

func recordHealth(t *testing.T, db *database.DB, assetID string, now time.Time, scores ...float64) {
	t.Helper()
	for i, score := range scores {
		at := now.Add(-time.Duration(len(scores)-1-i) * 24 * time.Hour)
		require.NoError(t, db.Asset().UpdateHealth(context.Background(), assetID, score, model.AssetStatusActive, at))
	}
}

func TestPredictiveMaintenance(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	now := time.Now().UTC().Truncate(time.Second)
	svc := NewService(db.Metric(), db.Asset(), db.Health(), nil, nil, config.Default().Monitoring, zap.NewNop())
	svc.now = func() time.Time { return now }

	declining := createAsset(t, db, "declining")
	recordHealth(t, db, declining.ID, now, 90, 80, 70, 60)

	stable := createAsset(t, db, "stable")
	recordHealth(t, db, stable.ID, now, 90, 90, 90)

	failing := createAsset(t, db, "failing")
	recordHealth(t, db, failing.ID, now, 40, 30, 20)

	scheduled := createAsset(t, db, "scheduled")
	due := now.Add(48 * time.Hour)
	require.NoError(t, db.Asset().SetNextMaintenance(ctx, scheduled.ID, &due))

	predictions, err := svc.PredictiveMaintenance(ctx, 7)
	require.NoError(t, err)
	require.Len(t, predictions, 3)

	byID := make(map[string]Prediction)
	for _, p := range predictions {
		byID[p.AssetID] = p
	}
	assert.NotContains(t, byID, stable.ID)

	d := byID[declining.ID]
	assert.Equal(t, ReasonHealthTrend, d.Reason)
	assert.InDelta(t, -10.0, d.SlopePerDay, 0.01)
	assert.InDelta(t, 0.4, d.Confidence, 0.01)
	assert.WithinDuration(t, now.Add(72*time.Hour), d.ProjectedDate, time.Minute)

	f := byID[failing.ID]
	assert.Equal(t, now, f.ProjectedDate)

	s := byID[scheduled.ID]
	assert.Equal(t, ReasonScheduledMaintenance, s.Reason)
	assert.InDelta(t, 1.0, s.Confidence, 1e-9)

	// 按预计日期升序
	assert.Equal(t, failing.ID, predictions[0].AssetID)
	assert.Equal(t, scheduled.ID, predictions[1].AssetID)
	assert.Equal(t, declining.ID, predictions[2].AssetID)

	short, err := svc.PredictiveMaintenance(ctx, 1)
	require.NoError(t, err)
	require.Len(t, short, 1)
	assert.Equal(t, failing.ID, short[0].AssetID)
}

func TestPredictiveMaintenance_DaysAheadBounds(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.PredictiveMaintenance(context.Background(), 0)
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.PredictiveMaintenance(context.Background(), 366)
	assert.True(t, apperr.IsValidation(err))
}
