package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/smart-resizer/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestFormatMessageIncludesFields(t *testing.T) {
	c, err := NewClient(Config{WebhookURL: "https://hooks.example/x", Channel: "#resizer"})
	require.NoError(t, err)

	msg := c.formatMessage(notify.JobEvent{
		JobID:         "job-1",
		OwnerID:       "owner<1>",
		Status:        notify.StatusCompleted,
		Workflow:      "smart_resizer",
		Total:         3,
		Completed:     2,
		Failed:        1,
		FailedFormats: []string{"tiktok_cover"},
		Reason:        "transform timed out",
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	text, _ := msg["text"].(string)
	assert.Contains(t, text, "finished with failures")
	assert.Contains(t, text, "`job-1`")
	assert.Contains(t, text, "owner&lt;1&gt;")
	assert.Contains(t, text, "2 ok, 1 failed of 3")
	assert.Contains(t, text, "`tiktok_cover`")
	assert.Contains(t, text, "Severity: warning")
	assert.Contains(t, text, "2026-01-02T03:04:05Z")
	assert.Equal(t, "#resizer", msg["channel"])
	assert.Equal(t, "smart-resizer", msg["username"])
}

func TestFormatMessageJobLink(t *testing.T) {
	c, err := NewClient(Config{WebhookURL: "https://hooks.example/x", JobURLPrefix: "https://resizer.example/api/jobs"})
	require.NoError(t, err)

	msg := c.formatMessage(notify.JobEvent{JobID: "abc", Status: notify.StatusFailed})
	text, _ := msg["text"].(string)
	assert.True(t, strings.HasPrefix(text, "*Resize job failed* <https://resizer.example/api/jobs/abc|abc>"))

	bad, err := NewClient(Config{WebhookURL: "https://hooks.example/x", JobURLPrefix: "not a url"})
	require.NoError(t, err)
	assert.Equal(t, "`abc`", bad.jobLabel("abc"))
}

func TestSendJobEvent_SkipsCleanJobs(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{WebhookURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.SendJobEvent(context.Background(), notify.JobEvent{Status: notify.StatusCompleted, Total: 1, Completed: 1}))
	assert.Zero(t, calls.Load())
}

func TestSendJobEvent_PostsFailures(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{WebhookURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.SendJobEvent(context.Background(), notify.JobEvent{JobID: "j", Status: notify.StatusFailed}))
	assert.Contains(t, got["text"], "Resize job failed")
}
