package notifications

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crewdesk/crewdesk/internal/queue"
	"github.com/crewdesk/crewdesk/internal/queue/memory"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	s := NewService(memory.New(queue.Config{}, nil), nil)
	h := NewHandler(s)

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, s
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func enqueueBody(notificationID string) map[string]any {
	return map[string]any{
		"notification_id": notificationID,
		"user_id":         "u-1",
		"channels":        []string{"email", "sms"},
		"payload": map[string]any{
			"category": "billing",
			"title":    "Invoice due",
			"message":  "Your invoice is due",
			"priority": "high",
		},
	}
}

func TestHandler_EnqueueNotification(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/notifications", enqueueBody("n-1"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var entry EntryResponse
	decodeData(t, resp, &entry)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "n-1", entry.NotificationID)
	assert.Equal(t, "waiting", entry.State)
	assert.Equal(t, 1, entry.Priority)
}

func TestHandler_EnqueueNotification_Idempotent(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/notifications", enqueueBody("n-1"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var first EntryResponse
	decodeData(t, resp, &first)

	resp = postJSON(t, ts.URL+"/notifications", enqueueBody("n-1"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var second EntryResponse
	decodeData(t, resp, &second)

	assert.Equal(t, first.ID, second.ID)
}

func TestHandler_EnqueueNotification_Validation(t *testing.T) {
	ts, _ := newTestServer(t)

	body := enqueueBody("n-1")
	body["channels"] = []string{"carrier-pigeon"}

	resp := postJSON(t, ts.URL+"/notifications", body)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_EnqueueNotification_InvalidJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/notifications", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_QueueStats(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/notifications", enqueueBody("n-1"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err := http.Get(ts.URL + "/queue/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats queue.Stats
	decodeData(t, resp, &stats)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.Total)
}

func TestHandler_PauseAndResume(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/pause", nil)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/queue/resume", nil)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_RetryFailed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/retry-failed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]int
	decodeData(t, resp, &result)
	assert.Zero(t, result["retried"])
}

func TestHandler_Prune(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/prune", map[string]string{"older_than": "24h"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]int
	decodeData(t, resp, &result)
	assert.Zero(t, result["pruned"])
}

func TestHandler_Prune_RejectsBadDuration(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/prune", map[string]string{"older_than": "yesterday"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_EnqueueAfterClose(t *testing.T) {
	ts, s := newTestServer(t)
	require.NoError(t, s.Close(0))

	resp := postJSON(t, ts.URL+"/notifications", enqueueBody("n-1"))
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
