package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateStatusAlertsOnDegradation(t *testing.T) {
	var alerts []string
	m := NewMonitor(func(component, status, message string) {
		alerts = append(alerts, component+":"+status)
	})
	m.RegisterComponent("database")
	assert.False(t, m.Ready())

	m.UpdateStatus("database", StatusHealthy, "")
	assert.True(t, m.Ready())
	assert.Empty(t, alerts)

	m.UpdateStatus("database", StatusUnhealthy, "connection refused")
	m.UpdateStatus("database", StatusUnhealthy, "connection refused")
	assert.Equal(t, []string{"database:unhealthy"}, alerts)
	assert.False(t, m.Ready())

	status := m.GetStatus("database")
	require.NotNil(t, status)
	assert.Equal(t, "connection refused", status.Message)
	assert.Nil(t, m.GetStatus("nats"))
}

func TestMonitor_Check(t *testing.T) {
	m := NewMonitor(nil)
	ctx := context.Background()

	m.Check(ctx, "nats", func(context.Context) error { return errors.New("disconnected") })
	assert.Equal(t, StatusUnhealthy, m.GetStatus("nats").Status)

	m.Check(ctx, "nats", func(context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, m.GetStatus("nats").Status)
	assert.Len(t, m.GetAllStatus(), 1)
}

func TestMonitor_CheckHTTPEndpoint(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	m := NewMonitor(nil)
	m.CheckHTTPEndpoint(context.Background(), "api", healthy.URL)
	assert.Equal(t, StatusHealthy, m.GetStatus("api").Status)

	m.CheckHTTPEndpoint(context.Background(), "api", broken.URL)
	assert.Equal(t, StatusUnhealthy, m.GetStatus("api").Status)
	assert.Contains(t, m.GetStatus("api").Message, "503")
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.MetricsIngested.WithLabelValues("temperature").Inc()
	m.AlertTransitions.WithLabelValues("created", "critical").Add(2)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.MetricsIngested.WithLabelValues("temperature")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.AlertTransitions.WithLabelValues("created", "critical")), 1e-9)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
