// Package notify defines the job lifecycle events the service publishes and the sinks that
// deliver them.
package notify

import (
	"context"
	"time"
)

// Severity values recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Job event statuses. They mirror the terminal job states plus the admission failure case.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// JobEvent is the canonical record of a job reaching a terminal state.
type JobEvent struct {
	JobID         string    `json:"job_id"`
	OwnerID       string    `json:"owner_id"`
	Status        string    `json:"status"`
	Workflow      string    `json:"workflow,omitempty"`
	Total         int       `json:"total"`
	Completed     int       `json:"completed"`
	Failed        int       `json:"failed"`
	FailedFormats []string  `json:"failed_formats,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ErrorClass    string    `json:"error_class,omitempty"`
	Severity      string    `json:"severity,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// IsFailure reports whether the whole job failed.
func (e JobEvent) IsFailure() bool { return e.Status == StatusFailed }

// HasFailures reports whether any part of the job failed.
func (e JobEvent) HasFailures() bool { return e.IsFailure() || e.Failed > 0 }

// EffectiveSeverity falls back to a severity derived from the outcome.
func (e JobEvent) EffectiveSeverity() string {
	if e.Severity != "" {
		return e.Severity
	}
	switch {
	case e.IsFailure():
		return SeverityCritical
	case e.HasFailures():
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Sink describes a destination for job events. Sinks decide which events they care about.
type Sink interface {
	SendJobEvent(ctx context.Context, event JobEvent) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event JobEvent) error

// SendJobEvent implements Sink.
func (f SinkFunc) SendJobEvent(ctx context.Context, event JobEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}
