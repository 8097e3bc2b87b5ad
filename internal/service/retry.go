package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/observability/statsd"
)

// RetryServiceOptions groups dependencies for RetryService.
type RetryServiceOptions struct {
	Jobs     core.JobRepository    // Required
	Results  core.ResultRepository // Required
	Queue    core.TaskQueue        // Required
	Notifier core.JobNotifier      // Optional
	Metrics  statsd.Sink           // Optional
	Logger   *slog.Logger          // Optional
}

// Retried describes a reopened job.
type Retried struct {
	Job            *model.Job
	RetriedFormats []string
}

// RetryService re-runs the failed formats of a terminal job.
type RetryService struct {
	jobs    core.JobRepository
	results core.ResultRepository
	queue   core.TaskQueue
	logger  *slog.Logger
	settler *settler
}

// NewRetryService constructs a RetryService.
func NewRetryService(opts RetryServiceOptions) (*RetryService, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Results == nil:
		return nil, errors.New("ResultRepository is required")
	case opts.Queue == nil:
		return nil, errors.New("TaskQueue is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "retry")
	}
	return &RetryService{
		jobs:    opts.Jobs,
		results: opts.Results,
		queue:   opts.Queue,
		logger:  logger,
		settler: newSettler(opts.Jobs, opts.Notifier, opts.Metrics, logger),
	}, nil
}

// Retry resets the failed results of the owner's job and enqueues one task for them.
//
// Errors: ErrJobNotFound, ErrForbidden, ErrJobInProgress, ErrNoFailedFormats, and
// ErrEnqueueFailed.
func (s *RetryService) Retry(ctx context.Context, ownerID, jobID string) (*Retried, error) {
	job, err := s.jobs.GetForOwner(ctx, model.JobLookup{ID: jobID, OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if !job.Status.Terminal() {
		return nil, ErrJobInProgress
	}

	// Read the previous attempt count before the reset bumps it.
	prior, err := s.results.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	reopened, err := s.jobs.ReopenForRetry(ctx, job.ID)
	switch {
	case errors.Is(err, data.ErrJobNotRetryable):
		return nil, ErrJobInProgress
	case err != nil:
		return nil, fmt.Errorf("reopen job: %w", err)
	}

	attempt := retryAttempt(prior)
	if err := s.enqueueRetry(ctx, reopened.Job, reopened.FormatKeys, attempt); err != nil {
		s.abandon(ctx, reopened, err)
		return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job retry queued",
			"job_id", job.ID,
			"formats", reopened.FormatKeys,
			"attempt", attempt)
	}
	return &Retried{Job: reopened.Job, RetriedFormats: reopened.FormatKeys}, nil
}

func (s *RetryService) enqueueRetry(ctx context.Context, job *model.Job, keys []string, attempt int) error {
	payload, err := json.Marshal(model.ResizePayload{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		MasterRef:   job.Master.Path,
		ContentType: job.Master.ContentType,
		FormatKeys:  keys,
		Quality:     job.Quality,
		Workflow:    job.Workflow,
		Attempt:     attempt,
	})
	if err != nil {
		return fmt.Errorf("marshal resize payload: %w", err)
	}
	jobID := job.ID
	_, err = s.queue.Enqueue(ctx, &model.CreateTaskRequest{
		Type:     model.TaskTypeResize,
		Payload:  payload,
		Priority: job.Priority,
		JobID:    &jobID,
	})
	return err
}

// abandon marks the reset formats failed again and settles the job so it does not sit in
// processing until the reaper finds it.
func (s *RetryService) abandon(ctx context.Context, reopened *core.Reopened, cause error) {
	jobID := reopened.Job.ID
	for _, key := range reopened.FormatKeys {
		if _, err := s.results.Upsert(ctx, model.FailedResult(jobID, key, "retry enqueue failed", 0)); err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to restore result after retry enqueue error",
					"job_id", jobID, "format", key, "error", err)
			}
			return
		}
	}
	if _, err := s.settler.settle(ctx, jobID); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to settle job after retry enqueue error", "job_id", jobID, "error", err)
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "retry enqueue failed", "job_id", jobID, "error", cause)
	}
}

// retryAttempt numbers the next run. Result attempts start at 1 for the admission run, which is
// payload attempt 0, so the highest prior result attempt is the next payload attempt.
func retryAttempt(prior []*model.Result) int {
	n := 1
	for _, r := range prior {
		if r != nil && r.Attempts > n {
			n = r.Attempts
		}
	}
	return n
}
