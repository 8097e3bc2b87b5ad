// Package slack posts job outcome summaries to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/target/smart-resizer/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// JobURLPrefix, when set, links the job id to its progress endpoint.
	JobURLPrefix string
}

// Client delivers job outcome messages to Slack. Only events with failed formats are posted.
type Client struct {
	webhookURL   string
	channel      string
	username     string
	retryLimit   int
	jobURLPrefix string
	client       *http.Client
}

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "smart-resizer"
	}

	return &Client{
		webhookURL:   webhookURL,
		channel:      strings.TrimSpace(cfg.Channel),
		username:     username,
		retryLimit:   max(cfg.RetryLimit, 0),
		jobURLPrefix: strings.TrimSpace(cfg.JobURLPrefix),
		client:       hc,
	}, nil
}

// SendJobEvent posts a formatted message when the job had failures.
func (c *Client) SendJobEvent(ctx context.Context, event notify.JobEvent) error {
	if !event.HasFailures() {
		return nil
	}
	body, err := json.Marshal(c.formatMessage(event))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return notify.PostJSON(ctx, notify.PostParams{
		Client:  c.client,
		URL:     c.webhookURL,
		Body:    body,
		Retries: c.retryLimit,
		Label:   "slack webhook",
	})
}

func (c *Client) formatMessage(event notify.JobEvent) map[string]any {
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}

	var text strings.Builder
	if event.IsFailure() {
		text.WriteString("*Resize job failed*")
	} else {
		text.WriteString("*Resize job finished with failures*")
	}
	if event.JobID != "" {
		text.WriteByte(' ')
		text.WriteString(c.jobLabel(event.JobID))
	}
	text.WriteByte('\n')

	writeField(&text, "Severity", event.EffectiveSeverity())
	writeField(&text, "Owner", escape(event.OwnerID))
	writeField(&text, "Workflow", event.Workflow)
	if event.Total > 0 {
		writeField(&text, "Formats", fmt.Sprintf("%d ok, %d failed of %d",
			event.Completed, event.Failed, event.Total))
	}
	if len(event.FailedFormats) > 0 {
		writeField(&text, "Failed formats", "`"+strings.Join(event.FailedFormats, "`, `")+"`")
	}
	writeField(&text, "Error class", event.ErrorClass)
	writeField(&text, "Reason", escape(event.Reason))
	text.WriteString("• Timestamp: ")
	text.WriteString(ts.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func (c *Client) jobLabel(jobID string) string {
	id := escape(jobID)
	if c.jobURLPrefix == "" {
		return "`" + id + "`"
	}
	u, err := url.Parse(c.jobURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "`" + id + "`"
	}
	link, err := url.JoinPath(u.String(), url.PathEscape(jobID))
	if err != nil {
		return "`" + id + "`"
	}
	return fmt.Sprintf("<%s|%s>", link, id)
}

func writeField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func escape(value string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(value)
}
