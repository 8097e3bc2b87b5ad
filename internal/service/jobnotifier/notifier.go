// Package jobnotifier fans terminal job events out to every configured sink.
package jobnotifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/smart-resizer/internal/observability/notify"
)

// SinkRegistration pairs a sink with a name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the dispatcher.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Timeout bounds each delivery. Zero means 10s.
	Timeout time.Duration
	// Now stamps events that arrive without OccurredAt.
	Now func() time.Time
}

// Service dispatches job events. Delivery errors are logged, never returned; a broken sink
// must not change job state.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	timeout time.Duration
	now     func() time.Time
}

// NewService constructs a dispatcher. Nil sinks are dropped.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	sinks := make([]SinkRegistration, 0, len(opts.Sinks))
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = "sink"
		}
		sinks = append(sinks, entry)
	}

	return &Service{
		logger:  logger.With("component", "job_notifier"),
		sinks:   sinks,
		timeout: timeout,
		now:     now,
	}
}

// NotifyJobEvent delivers event to all sinks concurrently and waits for them. Cancellation of
// ctx does not abort delivery; each sink gets its own timeout.
func (s *Service) NotifyJobEvent(ctx context.Context, event notify.JobEvent) {
	if s == nil || len(s.sinks) == 0 {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = event.EffectiveSeverity()
	}

	base := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(base, s.timeout)
			defer cancel()
			if err := entry.Sink.SendJobEvent(sendCtx, event); err != nil {
				s.logger.ErrorContext(ctx, "job event delivery failed",
					"sink", entry.Name,
					"job_id", event.JobID,
					"status", event.Status,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether any sink is registered.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
