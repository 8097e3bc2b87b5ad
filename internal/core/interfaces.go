// Package core declares the ports between the resize services and their adapters.
package core

import (
	"context"
	"time"

	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/observability/notify"
)

// Service implementations depend on these interfaces; internal/data and internal/adapters
// provide the implementations.

// TaskRepository is the durable task queue.
type TaskRepository interface {
	Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error)
	GetByID(ctx context.Context, id string) (*model.Task, error)
	ReserveNext(ctx context.Context, taskType model.TaskType, leaseSeconds int) (*model.Task, error)
	WaitForNotification(ctx context.Context, taskType model.TaskType) error
	Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error)
}

// MarkJobFailedParams groups the arguments for JobRepository.MarkFailed.
type MarkJobFailedParams struct {
	ID     string
	Reason string
}

// Settlement is the outcome of JobRepository.Settle.
type Settlement struct {
	Job      *model.Job
	Progress model.Progress
	Results  []*model.Result
	// Changed is true when this call moved the job into a terminal status.
	Changed bool
}

// Reopened is the outcome of JobRepository.ReopenForRetry.
type Reopened struct {
	Job        *model.Job
	FormatKeys []string
}

// JobRepository stores resize jobs.
type JobRepository interface {
	Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// GetForOwner returns ErrJobNotFound or ErrJobForbidden from internal/data.
	GetForOwner(ctx context.Context, lookup model.JobLookup) (*model.Job, error)
	// MarkProcessing moves a pending or processing job to processing. It reports false when
	// the job is already terminal.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, params MarkJobFailedParams) (bool, error)
	// Settle locks the job row, recomputes progress from its results, and applies the
	// terminal status once nothing is pending.
	Settle(ctx context.Context, id string) (*Settlement, error)
	// ReopenForRetry resets failed results to pending and moves the job to processing.
	ReopenForRetry(ctx context.Context, id string) (*Reopened, error)
}

// ResultRepository stores per-format outcomes.
type ResultRepository interface {
	// Upsert writes a result. A completed row is never overwritten.
	Upsert(ctx context.Context, params model.UpsertResultParams) (*model.Result, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.Result, error)
}

// FailStaleJobsParams selects jobs the reaper gives up on.
type FailStaleJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
	Reason    string
}

// DeleteOldTasksParams selects terminal tasks to prune.
type DeleteOldTasksParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository is the cleanup surface.
type ReaperRepository interface {
	// FailStaleJobs fails jobs stuck in Status and returns their ids.
	FailStaleJobs(ctx context.Context, params FailStaleJobsParams) ([]string, error)
	FailStalePendingTasks(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	DeleteOldTasks(ctx context.Context, params DeleteOldTasksParams) (int64, error)
}

// ObjectStore holds master images and rendered outputs.
type ObjectStore interface {
	// Put stores data under key and returns the reference to persist.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	// PublicURL returns the URL clients use to fetch ref.
	PublicURL(ref string) string
}

// ImageMetadata is what admission needs to know about an upload.
type ImageMetadata struct {
	Width  int
	Height int
	Format string
}

// ResizeRequest describes one output rendition.
type ResizeRequest struct {
	Source     []byte
	Width      int
	Height     int
	Quality    int
	Fit        string
	Background string
}

// ResizeOutput is an encoded rendition.
type ResizeOutput struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
}

// Transformer decodes and renders images.
type Transformer interface {
	DetectContentType(data []byte) string
	ReadMetadata(data []byte) (ImageMetadata, error)
	Verify(data []byte) error
	Resize(ctx context.Context, req ResizeRequest) (*ResizeOutput, error)
}

// RateLimiter enforces fixed-window request limits.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// TaskQueue enqueues work for the job runner.
type TaskQueue interface {
	Enqueue(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error)
}

// JobNotifier publishes terminal job events.
type JobNotifier interface {
	NotifyJobEvent(ctx context.Context, event notify.JobEvent)
}
