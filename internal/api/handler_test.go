package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"expiry-compliance/internal/clock"
	"expiry-compliance/internal/engine"
	"expiry-compliance/internal/models"
	"expiry-compliance/internal/queue"
	"expiry-compliance/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var apiNow = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type itemsSource struct{}

func (itemsSource) Items(ctx context.Context) ([]models.Item, error) {
	return []models.Item{{ID: "a", Name: "Cream", ExpiryDate: "2026-06-30", Quantity: 1}}, nil
}

func (itemsSource) Settings(ctx context.Context) (models.Settings, error) {
	return models.DefaultSettings(), nil
}

func (itemsSource) RemovalAuditEntries(ctx context.Context) ([]models.AuditEntry, error) {
	return nil, nil
}

type memoryBundles struct {
	bundles map[string]*models.Bundle
	err     error
}

func (m *memoryBundles) LatestBundle(ctx context.Context, accountID string) (*models.Bundle, error) {
	return m.bundles[accountID], m.err
}

type testServer struct {
	router  *gin.Engine
	handler *Handler
	engine  *engine.Engine
	bundles *memoryBundles
	hub     *Hub
	applied []models.QueuedMutation
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{bundles: &memoryBundles{bundles: map[string]*models.Bundle{}}, hub: NewHub()}

	c := clock.Fixed{T: apiNow}
	s := scheduler.New(scheduler.Config{Interval: time.Hour}, c, itemsSource{}, zap.NewNop())
	q := queue.New(queue.NewMemoryStore(), func(_ context.Context, m models.QueuedMutation) error {
		ts.applied = append(ts.applied, m)
		return nil
	}, queue.WithClock(c), queue.WithLogger(zap.NewNop()))

	ts.engine = engine.New("acct-1", s, q, func(b models.Bundle) {
		ts.bundles.bundles["acct-1"] = &b
		ts.hub.Broadcast("acct-1", b)
	})
	registry := engine.NewRegistry()
	require.NoError(t, registry.Register(ts.engine))
	t.Cleanup(func() {
		registry.StopAll()
		ts.hub.Close()
	})

	ts.handler = NewHandler(registry, ts.bundles, ts.hub, "acct-1")
	ts.router = gin.New()
	ts.handler.SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do("GET", "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ts.handler.AddReadinessCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	w = ts.do("GET", "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Contains(t, body["failed"], "postgres")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do("GET", "/health", nil)

	w := ts.do("GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestRunSchedulerProducesLatestBundle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/api/v1/compliance/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do("POST", "/api/v1/scheduler/run", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status scheduler.Status
	decode(t, w, &status)
	assert.True(t, status.Running)
	require.NotNil(t, status.LastCheckTime)
	assert.True(t, apiNow.Equal(*status.LastCheckTime))

	w = ts.do("GET", "/api/v1/compliance/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var bundle models.Bundle
	decode(t, w, &bundle)
	require.Len(t, bundle.Classifications, 1)
	assert.Equal(t, models.StateExpired, bundle.Classifications[0].State)
	require.NotEmpty(t, bundle.Alerts)
	assert.Equal(t, models.PriorityHigh, bundle.Alerts[0].Priority)

	w = ts.do("GET", "/api/v1/scheduler/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownAccount(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/api/v1/queue/status?account_id=nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnqueueAndDrain(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("POST", "/api/v1/connectivity", gin.H{"online": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do("POST", "/api/v1/queue/mutations", gin.H{
		"action": "remove",
		"data":   gin.H{"item_id": "a", "removed_at": apiNow.Format(time.RFC3339)},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var enqueued map[string]int
	decode(t, w, &enqueued)
	assert.Equal(t, 1, enqueued["pending_count"])

	w = ts.do("POST", "/api/v1/queue/drain", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do("GET", "/api/v1/queue/status", nil)
	var status queue.Status
	decode(t, w, &status)
	assert.False(t, status.IsOnline)
	assert.Equal(t, 1, status.PendingCount)

	w = ts.do("POST", "/api/v1/connectivity", gin.H{"online": true})
	require.Equal(t, http.StatusOK, w.Code)

	var reconnect struct {
		Online bool              `json:"online"`
		Drain  queue.DrainResult `json:"drain"`
	}
	decode(t, w, &reconnect)
	assert.True(t, reconnect.Online)
	assert.True(t, reconnect.Drain.Success)
	assert.Equal(t, 1, reconnect.Drain.SyncedCount)

	require.Len(t, ts.applied, 1)
	assert.Equal(t, "a", ts.applied[0].Payload.(models.RemovePayload).ItemID)

	w = ts.do("POST", "/api/v1/queue/drain", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result queue.DrainResult
	decode(t, w, &result)
	assert.True(t, result.Success)
	assert.Zero(t, result.SyncedCount)
}

func TestEnqueueRejectsBadMutations(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("POST", "/api/v1/queue/mutations", gin.H{"action": "archive", "data": gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do("POST", "/api/v1/queue/mutations", gin.H{"data": gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do("POST", "/api/v1/connectivity", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamPushesBundles(t *testing.T) {
	ts := newTestServer(t)
	ts.bundles.bundles["acct-1"] = &models.Bundle{SkippedItems: 4}

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial BundleMessage
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, "acct-1", initial.AccountID)
	assert.Equal(t, 4, initial.Bundle.SkippedItems)
	assert.Equal(t, 1, ts.hub.ClientCount())

	// other accounts are not delivered
	ts.hub.Broadcast("acct-2", models.Bundle{SkippedItems: 99})
	ts.hub.Broadcast("acct-1", models.Bundle{SkippedItems: 7})

	var pushed BundleMessage
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, 7, pushed.Bundle.SkippedItems)
}
