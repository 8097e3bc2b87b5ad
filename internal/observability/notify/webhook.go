package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PostParams describes one JSON webhook delivery.
type PostParams struct {
	Client  *http.Client
	URL     string
	Body    []byte
	Retries int
	// Label prefixes error messages, e.g. "slack".
	Label string
}

// PostJSON posts Body to URL, retrying with linear backoff on any failure.
func PostJSON(ctx context.Context, p PostParams) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	attempts := max(p.Retries, 0) + 1

	var lastErr error
	for attempt := range attempts {
		lastErr = postOnce(ctx, client, p)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * 200 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func postOnce(ctx context.Context, client *http.Client, p PostParams) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", p.Label, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", p.Label, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, drainErr := io.Copy(io.Discard, resp.Body)
		return closeBody(p.Label, resp, drainErr)
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := closeBody(p.Label, resp, readErr); err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %s", p.Label, resp.Status, strings.TrimSpace(string(body)))
}

func closeBody(label string, resp *http.Response, readErr error) error {
	closeErr := resp.Body.Close()
	switch {
	case readErr != nil && closeErr != nil:
		return errors.Join(
			fmt.Errorf("read %s response: %w", label, readErr),
			fmt.Errorf("close response body: %w", closeErr),
		)
	case readErr != nil:
		return fmt.Errorf("read %s response: %w", label, readErr)
	case closeErr != nil:
		return fmt.Errorf("close response body: %w", closeErr)
	}
	return nil
}
