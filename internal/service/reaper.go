package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/smart-resizer/config"
	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/domain/model"
	obserrors "github.com/target/smart-resizer/internal/observability/errors"
	"github.com/target/smart-resizer/internal/observability/metrics"
	"github.com/target/smart-resizer/internal/observability/notify"
	"github.com/target/smart-resizer/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo   core.ReaperRepository // Required: reaper repository
	Config config.ReaperConfig   // Required: reaper configuration
	// Jobs and Results are read to describe reaped jobs in notifications. Both are needed
	// for events to be published.
	Jobs     core.JobRepository
	Results  core.ResultRepository
	Notifier core.JobNotifier // Optional: receives an event per reaped job
	Logger   *slog.Logger     // Optional: structured logger
	Metrics  statsd.Sink      // Optional: metrics sink (StatsD-compatible)
}

// ReaperService fails stuck jobs and prunes the task queue.
//
// Each pass:
// - fails jobs left pending past PendingMaxAge (their enqueue was lost);
// - fails jobs left processing past ProcessingMaxAge;
// - fails queue tasks left pending past PendingMaxAge;
// - deletes terminal tasks older than TaskRetention.
type ReaperService struct {
	repo     core.ReaperRepository
	jobs     core.JobRepository
	results  core.ResultRepository
	notifier core.JobNotifier
	config   config.ReaperConfig
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"pending_max_age", opts.Config.PendingMaxAge,
			"processing_max_age", opts.Config.ProcessingMaxAge,
			"task_retention", opts.Config.TaskRetention,
		)
	}

	return &ReaperService{
		repo:     opts.Repo,
		jobs:     opts.Jobs,
		results:  opts.Results,
		notifier: opts.Notifier,
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Spread out instances that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(ctx, err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(ctx, err, "cleanup")
			}
		}
	}
}

// waitWithJitter sleeps a random delay of up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

type cleanupStep struct {
	operation string
	fn        func(context.Context) (int64, error)
}

type stepOutcome struct {
	operation string
	count     int64
	err       error
}

// RunOnce performs one full cleanup pass. Every step runs even when an earlier one fails.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	steps := []cleanupStep{
		{operation: "fail_pending_jobs", fn: s.staleJobs(model.JobStatusPending, s.config.PendingMaxAge)},
		{operation: "fail_processing_jobs", fn: s.staleJobs(model.JobStatusProcessing, s.config.ProcessingMaxAge)},
		{operation: "fail_pending_tasks", fn: s.failStalePendingTasks},
		{operation: "delete_tasks", fn: s.deleteOldTasks},
	}

	outcomes := make([]stepOutcome, 0, len(steps))
	var (
		errs        []error
		allCanceled = true
	)
	for _, step := range steps {
		count, err := step.fn(ctx)
		outcomes = append(outcomes, stepOutcome{
			operation: step.operation,
			count:     count,
			err:       suppressContextCancellation(err),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.operation, err))
			allCanceled = allCanceled && isContextCancellation(err)
		}
	}

	s.emitCleanupMetrics(outcomes, time.Since(start))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allCanceled {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}
	return nil
}

// staleJobs returns a step failing jobs stuck in status, batch by batch.
func (s *ReaperService) staleJobs(status model.JobStatus, maxAge time.Duration) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		reason := fmt.Sprintf("job stuck in %s for more than %s", status, maxAge)
		var total int64
		for {
			ids, err := s.repo.FailStaleJobs(ctx, core.FailStaleJobsParams{
				Status:    status,
				MaxAge:    maxAge,
				BatchSize: s.config.BatchSize,
				Reason:    reason,
			})
			if err != nil {
				return total, err
			}
			if len(ids) == 0 {
				break
			}
			total += int64(len(ids))
			for _, id := range ids {
				s.notifyReaped(ctx, id, reason)
			}
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
		}

		if total > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "failed stale jobs",
				"status", status,
				"count", total,
				"max_age", maxAge,
			)
		}
		return total, nil
	}
}

func (s *ReaperService) notifyReaped(ctx context.Context, jobID, reason string) {
	if s.notifier == nil || s.jobs == nil || s.results == nil {
		return
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to load reaped job", "job_id", jobID, "error", err)
		}
		return
	}
	results, err := s.results.ListByJob(ctx, jobID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to load reaped job results", "job_id", jobID, "error", err)
		}
		return
	}

	p := model.ComputeProgress(job.RequestedFormats, results)
	s.notifier.NotifyJobEvent(ctx, notify.JobEvent{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		Status:        notify.StatusFailed,
		Workflow:      workflowKind(job.Workflow),
		Total:         p.Total,
		Completed:     p.Completed,
		Failed:        p.Failed,
		FailedFormats: model.FailedKeys(job.RequestedFormats, results),
		Reason:        reason,
		ErrorClass:    obserrors.ClassTimeout,
		Severity:      notify.SeverityCritical,
	})
}

func (s *ReaperService) failStalePendingTasks(ctx context.Context) (int64, error) {
	return s.drain(ctx, "failed stale pending tasks", func(ctx context.Context) (int64, error) {
		return s.repo.FailStalePendingTasks(ctx, s.config.PendingMaxAge, s.config.BatchSize)
	})
}

func (s *ReaperService) deleteOldTasks(ctx context.Context) (int64, error) {
	return s.drain(ctx, "deleted old tasks", func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldTasks(ctx, core.DeleteOldTasksParams{
			MaxAge:    s.config.TaskRetention,
			BatchSize: s.config.BatchSize,
		})
	})
}

// drain repeats batch until it affects no rows.
func (s *ReaperService) drain(ctx context.Context, msg string, batch func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := batch(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, msg, "count", total)
	}
	return total, nil
}

func (s *ReaperService) emitCleanupMetrics(outcomes []stepOutcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		total    int64
		firstErr error
	)
	for _, o := range outcomes {
		total += o.count
		if firstErr == nil {
			firstErr = o.err
		}
	}

	tags := map[string]string{"result": resultTag(total, firstErr)}
	if class := obserrors.Classify(firstErr); class != "" {
		tags["error_class"] = class
	}
	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}

	for _, o := range outcomes {
		opTags := map[string]string{
			"operation": o.operation,
			"result":    resultTag(o.count, o.err),
		}
		if class := obserrors.Classify(o.err); class != "" {
			opTags["error_class"] = class
		}
		s.metrics.Count("reaper.cleanup_operation", 1, opTags)
		if o.err == nil && o.count > 0 {
			s.metrics.Count("reaper.rows_processed", o.count, metrics.CloneTags(opTags))
		}
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func resultTag(count int64, err error) string {
	switch {
	case err != nil:
		return metrics.ResultError
	case count == 0:
		return metrics.ResultNoop
	default:
		return metrics.ResultSuccess
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
