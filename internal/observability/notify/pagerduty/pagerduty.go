// Package pagerduty raises incidents for failed jobs through the Events API v2.
package pagerduty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/target/smart-resizer/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Endpoint overrides APIEndpoint.
	Endpoint string
}

// Client publishes trigger events. Jobs that finished with partial failures are left to
// chat sinks; only whole-job failures page.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	retryLimit int
	client     *http.Client
}

// NewClient constructs a PagerDuty events client. A routing key is required.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		routingKey: key,
		source:     fallback(cfg.Source, "smart-resizer"),
		component:  fallback(cfg.Component, "resize-worker"),
		endpoint:   fallback(cfg.Endpoint, APIEndpoint),
		retryLimit: max(cfg.RetryLimit, 0),
		client:     hc,
	}, nil
}

// SendJobEvent submits a trigger event for failed jobs.
func (c *Client) SendJobEvent(ctx context.Context, event notify.JobEvent) error {
	if !event.IsFailure() {
		return nil
	}
	body, err := json.Marshal(c.buildEvent(event))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}
	return notify.PostJSON(ctx, notify.PostParams{
		Client:  c.client,
		URL:     c.endpoint,
		Body:    body,
		Retries: c.retryLimit,
		Label:   "pagerduty api",
	})
}

func (c *Client) buildEvent(event notify.JobEvent) map[string]any {
	occurredAt := event.OccurredAt.UTC()
	if event.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	severity := strings.ToLower(event.EffectiveSeverity())
	switch severity {
	case "critical", "error", "warning", "info":
	default:
		severity = notify.SeverityCritical
	}

	custom := map[string]any{
		"job_id":      event.JobID,
		"owner_id":    event.OwnerID,
		"workflow":    event.Workflow,
		"reason":      event.Reason,
		"error_class": event.ErrorClass,
		"total":       event.Total,
		"failed":      event.Failed,
	}
	if len(event.FailedFormats) > 0 {
		custom["failed_formats"] = event.FailedFormats
	}

	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		"dedup_key":    "resize_job:" + fallback(event.JobID, "unknown"),
		"payload": map[string]any{
			"summary":        fmt.Sprintf("Resize job %s failed", fallback(event.JobID, "unknown")),
			"severity":       severity,
			"source":         c.source,
			"component":      c.component,
			"timestamp":      occurredAt.Format(time.RFC3339),
			"custom_details": custom,
		},
	}
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}
