package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEvent_Classification(t *testing.T) {
	ok := JobEvent{Status: StatusCompleted, Total: 2, Completed: 2}
	assert.False(t, ok.IsFailure())
	assert.False(t, ok.HasFailures())
	assert.Equal(t, SeverityInfo, ok.EffectiveSeverity())

	partial := JobEvent{Status: StatusCompleted, Total: 2, Completed: 1, Failed: 1}
	assert.False(t, partial.IsFailure())
	assert.True(t, partial.HasFailures())
	assert.Equal(t, SeverityWarning, partial.EffectiveSeverity())

	failed := JobEvent{Status: StatusFailed}
	assert.True(t, failed.HasFailures())
	assert.Equal(t, SeverityCritical, failed.EffectiveSeverity())

	failed.Severity = SeverityInfo
	assert.Equal(t, SeverityInfo, failed.EffectiveSeverity())
}

func TestSinkFunc(t *testing.T) {
	var nilFunc SinkFunc
	require.NoError(t, nilFunc.SendJobEvent(context.Background(), JobEvent{}))

	var got string
	f := SinkFunc(func(_ context.Context, e JobEvent) error {
		got = e.JobID
		return nil
	})
	require.NoError(t, f.SendJobEvent(context.Background(), JobEvent{JobID: "j1"}))
	assert.Equal(t, "j1", got)
}

func TestPostJSON_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), PostParams{URL: srv.URL, Body: []byte(`{"a":1}`), Retries: 1, Label: "test"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestPostJSON_ReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), PostParams{URL: srv.URL, Body: []byte(`{}`), Label: "test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "nope")
}
