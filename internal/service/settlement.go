package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/workflow"
	obserrors "github.com/target/smart-resizer/internal/observability/errors"
	"github.com/target/smart-resizer/internal/observability/metrics"
	"github.com/target/smart-resizer/internal/observability/notify"
	"github.com/target/smart-resizer/internal/observability/statsd"
)

// settler applies terminal job transitions and publishes their side effects. It is shared by
// the worker, retry, admission, and reaper paths so every terminal transition notifies once.
type settler struct {
	jobs     core.JobRepository
	notifier core.JobNotifier
	metrics  statsd.Sink
	logger   *slog.Logger
	now      func() time.Time
}

func newSettler(jobs core.JobRepository, notifier core.JobNotifier, sink statsd.Sink, logger *slog.Logger) *settler {
	return &settler{jobs: jobs, notifier: notifier, metrics: sink, logger: logger, now: time.Now}
}

// settle recomputes the job's status. Side effects fire only when this call made the job
// terminal.
func (s *settler) settle(ctx context.Context, jobID string) (*core.Settlement, error) {
	st, err := s.jobs.Settle(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("settle job %s: %w", jobID, err)
	}
	if st == nil || !st.Changed || st.Job == nil {
		return st, nil
	}

	event := settledEvent(st)
	event.OccurredAt = s.now().UTC()
	s.publish(ctx, event)
	metrics.EmitJobSettled(s.metrics, metrics.JobMetric{
		Status:    string(st.Job.Status),
		Workflow:  event.Workflow,
		Completed: st.Progress.Completed,
		Failed:    st.Progress.Failed,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job settled",
			"job_id", st.Job.ID,
			"status", st.Job.Status,
			"completed", st.Progress.Completed,
			"failed", st.Progress.Failed)
	}
	return st, nil
}

// failJob moves a non-terminal job to failed and notifies. It reports whether the job moved.
func (s *settler) failJob(ctx context.Context, job *model.Job, reason string, cause error) (bool, error) {
	moved, err := s.jobs.MarkFailed(ctx, core.MarkJobFailedParams{ID: job.ID, Reason: reason})
	if err != nil {
		return false, fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	if !moved {
		return false, nil
	}

	kind := workflowKind(job.Workflow)
	total := len(job.RequestedFormats)
	s.publish(ctx, notify.JobEvent{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		Status:        notify.StatusFailed,
		Workflow:      kind,
		Total:         total,
		Failed:        total,
		FailedFormats: append([]string(nil), job.RequestedFormats...),
		Reason:        reason,
		ErrorClass:    obserrors.Classify(cause),
		OccurredAt:    s.now().UTC(),
	})
	metrics.EmitJobSettled(s.metrics, metrics.JobMetric{
		Status:   string(model.JobStatusFailed),
		Workflow: kind,
		Failed:   total,
	})
	if s.logger != nil {
		s.logger.WarnContext(ctx, "job failed", "job_id", job.ID, "reason", reason)
	}
	return true, nil
}

func (s *settler) publish(ctx context.Context, event notify.JobEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyJobEvent(ctx, event)
}

func settledEvent(st *core.Settlement) notify.JobEvent {
	job := st.Job
	event := notify.JobEvent{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		Status:    notify.StatusCompleted,
		Workflow:  workflowKind(job.Workflow),
		Total:     st.Progress.Total,
		Completed: st.Progress.Completed,
		Failed:    st.Progress.Failed,
	}
	if job.Status == model.JobStatusFailed {
		event.Status = notify.StatusFailed
	}
	if st.Progress.Failed > 0 {
		event.FailedFormats = model.FailedKeys(job.RequestedFormats, st.Results)
	}
	if job.LastError != nil {
		event.Reason = *job.LastError
	}
	return event
}

// workflowKind names the workflow stored on a job. Undecodable values report an empty kind.
func workflowKind(raw json.RawMessage) string {
	cfg, err := workflow.Decode(raw)
	if err != nil {
		return ""
	}
	return string(cfg.Kind())
}
