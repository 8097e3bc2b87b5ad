package pagerduty

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/smart-resizer/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{RoutingKey: "  "})
	require.Error(t, err)
}

func TestBuildEventDefaults(t *testing.T) {
	c, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	event := c.buildEvent(notify.JobEvent{
		JobID:         "123",
		Status:        notify.StatusFailed,
		Reason:        "enqueue failed",
		ErrorClass:    "timeout",
		FailedFormats: []string{"a"},
	})

	assert.Equal(t, "resize_job:123", event["dedup_key"])
	assert.Equal(t, "trigger", event["event_action"])

	payload, ok := event["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, notify.SeverityCritical, payload["severity"])
	assert.Equal(t, "smart-resizer", payload["source"])
	assert.Equal(t, "resize-worker", payload["component"])

	custom, ok := payload["custom_details"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"job_id", "reason", "error_class", "failed_formats"} {
		assert.Contains(t, custom, key)
	}
}

func TestBuildEventUnknownSeverity(t *testing.T) {
	c, err := NewClient(Config{RoutingKey: "key"})
	require.NoError(t, err)
	event := c.buildEvent(notify.JobEvent{Status: notify.StatusFailed, Severity: "sev1"})
	payload, _ := event["payload"].(map[string]any)
	assert.Equal(t, notify.SeverityCritical, payload["severity"])
	assert.Equal(t, "resize_job:unknown", event["dedup_key"])
}

func TestSendJobEvent_OnlyPagesFailedJobs(t *testing.T) {
	var calls atomic.Int32
	var routing string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		_ = json.Unmarshal(body, &got)
		routing, _ = got["routing_key"].(string)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	require.NoError(t, err)

	partial := notify.JobEvent{JobID: "j", Status: notify.StatusCompleted, Total: 2, Completed: 1, Failed: 1}
	require.NoError(t, c.SendJobEvent(context.Background(), partial))
	assert.Zero(t, calls.Load())

	require.NoError(t, c.SendJobEvent(context.Background(), notify.JobEvent{JobID: "j", Status: notify.StatusFailed}))
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "rk", routing)
}
