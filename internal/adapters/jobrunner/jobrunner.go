// Package jobrunner leases queue tasks and dispatches them to registered handlers.
package jobrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data"
	"github.com/target/smart-resizer/internal/domain/model"
	obserrors "github.com/target/smart-resizer/internal/observability/errors"
	"github.com/target/smart-resizer/internal/observability/metrics"
	"github.com/target/smart-resizer/internal/observability/statsd"
	"github.com/target/smart-resizer/internal/service"
)

// HandlerFunc processes a task and returns error to indicate failure (which will be retried per policy).
type HandlerFunc func(ctx context.Context, task *model.Task) error

// finishTimeout bounds the Complete/Fail write issued after a handler returns.
const finishTimeout = 10 * time.Second

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger

	// Task processing settings
	Lease       time.Duration  // per-task lease duration; defaults to 30s
	Concurrency int            // number of worker goroutines; defaults to 1
	TaskType    model.TaskType // which task type to process; defaults to resize

	// Optional dependency injections (useful for tests/decoupling)
	Tasks    *service.TaskService
	TaskRepo core.TaskRepository
	Metrics  statsd.Sink
}

// Runner pulls tasks and executes them using registered handlers.
type Runner struct {
	tasks    *service.TaskService
	logger   *slog.Logger
	lease    time.Duration
	taskType model.TaskType
	workers  int
	metrics  statsd.Sink

	mu       sync.RWMutex
	handlers map[model.TaskType]HandlerFunc
}

// NewRunner wires the task service and constructs a runner for a single task type.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.TaskRepo == nil && opts.Tasks == nil {
		return nil, errors.New("one of DB, TaskRepo, or Tasks must be provided")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	tt := opts.TaskType
	if !tt.Valid() {
		tt = model.TaskTypeResize
	}

	tasks := opts.Tasks
	if tasks == nil {
		repo := opts.TaskRepo
		if repo == nil {
			repo = data.NewTaskRepo(opts.DB, data.RepoConfig{Logger: logger})
		}
		var err error
		tasks, err = service.NewTaskService(service.TaskServiceOptions{
			Repo:         repo,
			DefaultLease: lease,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create task service: %w", err)
		}
	}

	return &Runner{
		tasks:    tasks,
		logger:   logger.With("component", "job_runner", "task_type", tt),
		lease:    lease,
		taskType: tt,
		workers:  workers,
		metrics:  opts.Metrics,
		handlers: make(map[model.TaskType]HandlerFunc),
	}, nil
}

// Register installs the handler for taskType, replacing any previous one.
func (r *Runner) Register(taskType model.TaskType, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

func (r *Runner) handler(taskType model.TaskType) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Run starts worker goroutines and processes tasks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "workers", r.workers, "lease", r.lease)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.tasks.Subscribe(r.taskType)
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		task, err := r.tasks.ReserveNext(ctx, r.taskType, r.lease)
		switch {
		case err == nil:
			if task != nil {
				r.processTask(ctx, task)
			}
		case errors.Is(err, model.ErrNoTasksAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-notify:
		return ok
	}
}

func (r *Runner) processTask(ctx context.Context, task *model.Task) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitTaskLifecycle(r.metrics, metrics.TaskMetric{
			TaskType:   string(task.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}
	log := r.logger.With("task_id", task.ID, "retry_count", task.RetryCount)

	h, ok := r.handler(task.Type)
	if !ok {
		err := fmt.Errorf("no handler for task type %s", task.Type)
		r.fail(ctx, task, err)
		emit("running->failed", metrics.ResultError, err)
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		r.heartbeat(hbCtx, task.ID)
	}()

	err := r.run(ctx, h, task)
	stopHeartbeat()
	hb.Wait()

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Shutting down; the lease expires and another worker picks the task up.
			log.InfoContext(ctx, "task interrupted by shutdown", "error", err)
			emit("running->interrupted", metrics.ResultNoop, err)
			return
		}
		log.WarnContext(ctx, "task handler failed", "error", err, "error_class", obserrors.Classify(err))
		r.fail(ctx, task, err)
		emit("running->failed", metrics.ResultError, err)
		return
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	completed, cerr := r.tasks.Complete(finishCtx, task.ID)
	switch {
	case cerr != nil:
		log.ErrorContext(ctx, "complete task error", "error", cerr)
		emit("running->completed", metrics.ResultError, cerr)
	case completed:
		emit("running->completed", metrics.ResultSuccess, nil)
	default:
		emit("running->completed", metrics.ResultNoop, nil)
	}
}

// run invokes h and converts a panic into an error so one bad task cannot kill its worker.
func (r *Runner) run(ctx context.Context, h HandlerFunc, task *model.Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, task)
}

// heartbeat extends the lease every lease/2 until ctx ends.
func (r *Runner) heartbeat(ctx context.Context, taskID string) {
	interval := r.lease / 2
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.tasks.Heartbeat(ctx, taskID, r.lease)
			switch {
			case err != nil && ctx.Err() == nil:
				r.logger.WarnContext(ctx, "task heartbeat failed", "task_id", taskID, "error", err)
			case err == nil && !ok:
				r.logger.WarnContext(ctx, "task lease lost", "task_id", taskID)
				return
			}
		}
	}
}

func (r *Runner) fail(ctx context.Context, task *model.Task, cause error) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	msg := cause.Error()
	if class := obserrors.Classify(cause); class != "" {
		msg = class + ": " + msg
	}
	if _, err := r.tasks.Fail(finishCtx, task.ID, msg); err != nil {
		r.logger.ErrorContext(ctx, "fail task error", "task_id", task.ID, "error", err, "original_error", cause)
	}
}
