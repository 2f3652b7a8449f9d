package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, *monitor.Metrics) {
	t.Helper()
	prom := monitor.NewMetrics(nil)
	hub := NewHub(prom, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv, prom
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub, srv, prom := startHub(t)
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 2.0, testutil.ToFloat64(prom.PushClients), 1e-9)

	alert := &model.Alert{ID: "al-1", AssetID: "a1", Severity: model.SeverityCritical, Status: model.AlertStatusOpen}
	hub.Notify(context.Background(), model.AlertEvent(model.ActionCreated, alert))

	for _, conn := range []*websocket.Conn{c1, c2} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Type   string         `json:"type"`
			Action string         `json:"action"`
			Data   map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "alert", msg.Type)
		assert.Equal(t, "created", msg.Action)
		assert.Equal(t, "al-1", msg.Data["id"])
	}
}

func TestHub_MetricUpdate(t *testing.T) {
	hub, srv, _ := startHub(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	score := 88.5
	hub.Notify(context.Background(), model.Event{
		Type: model.EventMetricUpdate,
		Data: model.MetricUpdate{AssetID: "a1", MetricType: model.MetricTemperature, Value: 71, HealthScore: &score},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"metric_update"`)
	assert.Contains(t, string(data), `"health_score":88.5`)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, srv, _ := startHub(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_NotifyNeverBlocks(t *testing.T) {
	hub := NewHub(nil, zap.NewNop()) // 未启动 Run

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.Notify(context.Background(), model.Event{Type: model.EventMetricUpdate})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
}
