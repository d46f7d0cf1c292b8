package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servermonitor/collector"
	"servermonitor/metrics"
	"servermonitor/scheduler"
	"servermonitor/storage"
)

type fixedStatus scheduler.Status

func (f fixedStatus) Status() scheduler.Status { return scheduler.Status(f) }

func newTestServer(t *testing.T, store storage.Querier, hub *Hub) (*Server, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	last := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	status := fixedStatus{State: "running", Cycles: 3, LastCycleAt: &last}
	return New(Config{Addr: "127.0.0.1:0"}, reg.Handler(), status, store, hub, nil), reg
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "running", body.State)
	assert.Equal(t, uint64(3), body.Cycles)
	require.NotNil(t, body.LastCycleAt)
	assert.True(t, body.LastCycleAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestMetricsHandler(t *testing.T) {
	srv, reg := newTestServer(t, nil, nil)
	reg.ObserveSample(collector.Sample{CPUPercent: 42})
	reg.ObserveProbe(collector.ProbeResult{URL: "https://x", Available: true, Latency: 250 * time.Millisecond, Measured: true})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "system_cpu_percent 42")
	assert.Contains(t, body, `endpoint_up{endpoint="https://x"} 1`)
	assert.Contains(t, body, `endpoint_latency_seconds{endpoint="https://x"} 0.25`)
}

func TestObservationsHandler_Disabled(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/observations", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestObservationsHandler_SQLite(t *testing.T) {
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "obs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	sample := collector.Sample{Timestamp: time.Now(), CPUPercent: 10, MemPercent: 20, DiskPercent: 30}
	require.NoError(t, db.Append(ctx, collector.NewObservation(sample,
		collector.ProbeResult{URL: "https://a", Available: true, Latency: time.Second, Measured: true})))
	require.NoError(t, db.Append(ctx, collector.NewObservation(sample,
		collector.ProbeResult{URL: "https://b", Err: "timeout"})))
	require.NoError(t, db.Append(ctx, collector.NewObservation(sample,
		collector.ProbeResult{URL: "https://a", Available: true, Latency: 2 * time.Second, Measured: true})))

	srv, _ := newTestServer(t, db, nil)

	t.Run("filter by endpoint", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/observations?endpoint=https://a&limit=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got []observationJSON
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "https://a", got[0].Endpoint)
		require.NotNil(t, got[0].Latency)
		assert.Equal(t, 2.0, *got[0].Latency)
	})

	t.Run("down endpoint has null latency", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/observations?endpoint=https://b", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"latency_seconds":null`)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/observations?limit=abc", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHub_PublishesReports(t *testing.T) {
	hub := NewHub(nil)
	srv, _ := newTestServer(t, nil, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(scheduler.Report{CycleID: "abc", CPUPercent: 12.5})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got scheduler.Report
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "abc", got.CycleID)
	assert.Equal(t, 12.5, got.CPUPercent)

	hub.Close()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, nil, NewHub(nil))
	ln, err := srv.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHealthHandler_BeforeFirstCycle(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, metrics.NewRegistry().Handler(), fixedStatus{State: "running"}, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "last_cycle_at")
	assert.Contains(t, rec.Body.String(), `"cycles":0`)
}
