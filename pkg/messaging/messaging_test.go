package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/engine"
	"AssetRadar/pkg/model"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func TestSubjectFor(t *testing.T) {
	alert := &model.Alert{ID: "x"}
	assert.Equal(t, "alerts.created", SubjectFor(model.AlertEvent(model.ActionCreated, alert)))
	assert.Equal(t, "alerts.resolved", SubjectFor(model.AlertEvent(model.ActionResolved, alert)))
	assert.Equal(t, "metrics.updated", SubjectFor(model.Event{Type: model.EventMetricUpdate}))
}

func TestEventPublisher_Run(t *testing.T) {
	pub := &fakePublisher{}
	ep := NewEventPublisher(pub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ep.Run(ctx)

	ep.Notify(ctx, model.AlertEvent(model.ActionCreated, &model.Alert{ID: "a"}))
	ep.Notify(ctx, model.Event{Type: model.EventMetricUpdate})

	require.Eventually(t, func() bool { return len(pub.published()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alerts.created", "metrics.updated"}, pub.published())
}

func TestEventPublisher_BreakerOpens(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	ep := NewEventPublisher(pub, zap.NewNop())
	ctx := context.Background()
	event := model.Event{Type: model.EventMetricUpdate}

	for i := 0; i < 5; i++ {
		require.Error(t, ep.publish(ctx, event))
	}
	assert.Equal(t, gobreaker.StateOpen, ep.State())

	err := ep.publish(ctx, event)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, pub.published(), 5)
}

func TestEventPublisher_NotifyDropsWhenFull(t *testing.T) {
	ep := NewEventPublisher(&fakePublisher{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize+10; i++ {
			ep.Notify(context.Background(), model.Event{Type: model.EventMetricUpdate})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
	assert.Len(t, ep.queue, queueSize)
}

type fakeIngester struct {
	single []engine.MetricInput
	batch  [][]engine.MetricInput
	err    error
	// failAssets 批量写入时对这些资产返回 err
	failAssets map[string]bool
}

func (f *fakeIngester) Ingest(_ context.Context, in engine.MetricInput) (*model.Metric, error) {
	f.single = append(f.single, in)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Metric{AssetID: in.AssetID}, nil
}

func (f *fakeIngester) IngestBatch(_ context.Context, inputs []engine.MetricInput) []engine.BatchResult {
	f.batch = append(f.batch, inputs)
	results := make([]engine.BatchResult, len(inputs))
	for i, in := range inputs {
		if f.err != nil && f.failAssets[in.AssetID] {
			results[i] = engine.BatchResult{Index: i, Error: f.err.Error(), Retryable: engine.IsRetryable(f.err)}
			continue
		}
		results[i] = engine.BatchResult{Index: i, Success: true}
	}
	return results
}

func TestIngestHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("single metric", func(t *testing.T) {
		f := &fakeIngester{}
		h := NewIngestHandler(f, &fakePublisher{}, zap.NewNop())
		require.NoError(t, h(ctx, []byte(`{"asset_id":"a1","metric_type":"temperature","value":71.5}`)))
		require.Len(t, f.single, 1)
		assert.Equal(t, "a1", f.single[0].AssetID)
		require.NotNil(t, f.single[0].Value)
		assert.InDelta(t, 71.5, *f.single[0].Value, 1e-9)
	})

	t.Run("batch", func(t *testing.T) {
		f := &fakeIngester{}
		h := NewIngestHandler(f, &fakePublisher{}, zap.NewNop())
		require.NoError(t, h(ctx, []byte(` [{"asset_id":"a1","metric_type":"temperature","value":1},{"asset_id":"a2","metric_type":"current","value":2}]`)))
		require.Len(t, f.batch, 1)
		assert.Len(t, f.batch[0], 2)
	})

	t.Run("storage error is redelivered", func(t *testing.T) {
		f := &fakeIngester{err: &apperr.StorageError{Op: "metric.save", Err: errors.New("db down")}}
		h := NewIngestHandler(f, &fakePublisher{}, zap.NewNop())
		assert.Error(t, h(ctx, []byte(`{"asset_id":"a1","metric_type":"temperature","value":1}`)))
	})

	t.Run("validation error is dropped", func(t *testing.T) {
		f := &fakeIngester{err: apperr.Validation("value", "is required")}
		h := NewIngestHandler(f, &fakePublisher{}, zap.NewNop())
		assert.NoError(t, h(ctx, []byte(`{"asset_id":"a1","metric_type":"temperature"}`)))
	})

	batchBody := []byte(`[{"asset_id":"a1","metric_type":"temperature","value":1},{"asset_id":"a2","metric_type":"current","value":2}]`)
	storageDown := &apperr.StorageError{Op: "metric.save", Err: errors.New("db down")}

	t.Run("batch storage failure republishes failed subset", func(t *testing.T) {
		f := &fakeIngester{err: storageDown, failAssets: map[string]bool{"a2": true}}
		pub := &fakePublisher{}
		h := NewIngestHandler(f, pub, zap.NewNop())
		require.NoError(t, h(ctx, batchBody))

		require.Equal(t, []string{SubjectMetricsRaw}, pub.published())
		retry, ok := pub.payloads[0].([]engine.MetricInput)
		require.True(t, ok)
		require.Len(t, retry, 1)
		assert.Equal(t, "a2", retry[0].AssetID)
		assert.Equal(t, 1, retry[0].Attempt)
		assert.NotNil(t, retry[0].Timestamp)
	})

	t.Run("batch republish failure is redelivered", func(t *testing.T) {
		f := &fakeIngester{err: storageDown, failAssets: map[string]bool{"a1": true}}
		h := NewIngestHandler(f, &fakePublisher{err: errors.New("no responders")}, zap.NewNop())
		assert.Error(t, h(ctx, batchBody))
	})

	t.Run("batch failure without publisher is redelivered", func(t *testing.T) {
		f := &fakeIngester{err: storageDown, failAssets: map[string]bool{"a1": true}}
		h := NewIngestHandler(f, nil, zap.NewNop())
		assert.Error(t, h(ctx, batchBody))
	})

	t.Run("batch validation failure is not republished", func(t *testing.T) {
		f := &fakeIngester{err: apperr.Validation("value", "is required"), failAssets: map[string]bool{"a1": true}}
		pub := &fakePublisher{}
		h := NewIngestHandler(f, pub, zap.NewNop())
		require.NoError(t, h(ctx, batchBody))
		assert.Empty(t, pub.published())
	})

	t.Run("batch retries stop after max deliveries", func(t *testing.T) {
		f := &fakeIngester{err: storageDown, failAssets: map[string]bool{"a1": true}}
		pub := &fakePublisher{}
		h := NewIngestHandler(f, pub, zap.NewNop())
		body := []byte(fmt.Sprintf(`[{"asset_id":"a1","metric_type":"temperature","value":1,"attempt":%d}]`, MaxDeliver-1))
		require.NoError(t, h(ctx, body))
		assert.Empty(t, pub.published())
	})

	t.Run("garbage is dropped", func(t *testing.T) {
		f := &fakeIngester{}
		h := NewIngestHandler(f, &fakePublisher{}, zap.NewNop())
		assert.NoError(t, h(ctx, []byte(`not json`)))
		assert.NoError(t, h(ctx, nil))
		assert.Empty(t, f.single)
	})
}
