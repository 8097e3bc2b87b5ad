// Package service holds the resize pipeline's business logic. Services depend on the ports in
// internal/core; internal/data is imported only for its sentinel errors.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/queue"
)

// TaskServiceOptions groups dependencies for TaskService.
type TaskServiceOptions struct {
	Repo            core.TaskRepository   // Required: task repository
	DefaultLease    time.Duration         // Required unless LeasePolicy is set
	Logger          *slog.Logger          // Optional: structured logger
	LeasePolicy     *queue.LeasePolicy    // Optional: override default lease policy
	Notifier        queue.Notifier        // Optional: custom task availability notifier
	NotifierOptions queue.NotifierOptions // Optional: configure default notifier behaviour
	// MaxRetries is applied to enqueued tasks that do not set their own.
	MaxRetries int
}

// TaskService wraps the durable queue with lease resolution and wake-up subscriptions.
type TaskService struct {
	repo        core.TaskRepository
	leasePolicy *queue.LeasePolicy
	notifier    queue.Notifier
	logger      *slog.Logger
	maxRetries  int
}

var _ core.TaskQueue = (*TaskService)(nil)

// NewTaskService constructs a new TaskService.
func NewTaskService(opts TaskServiceOptions) (*TaskService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}

	var leasePolicy *queue.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = queue.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		n, err := queue.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create task notifier: %w", err)
		}
		notifier = n
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "task_service")
		logger.Debug("TaskService initialized", "default_lease", leasePolicy.Default())
	}

	return &TaskService{
		repo:        opts.Repo,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger,
		maxRetries:  opts.MaxRetries,
	}, nil
}

// MustNewTaskService constructs a new TaskService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewTaskService(opts TaskServiceOptions) *TaskService {
	svc, err := NewTaskService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create TaskService: %v", err))
	}
	return svc
}

// Enqueue inserts a pending task. Listeners are woken by the insert's notification.
func (s *TaskService) Enqueue(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	if req == nil {
		return nil, errors.New("task request is required")
	}
	if req.MaxRetries == 0 && s.maxRetries > 0 {
		clone := *req
		clone.MaxRetries = s.maxRetries
		req = &clone
	}
	task, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "task enqueued", "id", task.ID, "type", task.Type, "priority", task.Priority)
	}
	return task, nil
}

// ReserveNext leases the next runnable task of taskType. It returns model.ErrNoTasksAvailable
// (wrapped) when the queue is empty.
func (s *TaskService) ReserveNext(ctx context.Context, taskType model.TaskType, lease time.Duration) (*model.Task, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", decision.Requested,
			"task_type", taskType)
	}

	task, err := s.repo.ReserveNext(ctx, taskType, decision.Seconds)
	if err != nil {
		return nil, fmt.Errorf("reserve next task: %w", err)
	}
	if s.logger != nil && task != nil {
		s.logger.DebugContext(ctx, "task reserved", "id", task.ID, "type", taskType, "lease_seconds", decision.Seconds)
	}
	return task, nil
}

// Subscribe creates a subscription for task notifications of the given type.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *TaskService) Subscribe(taskType model.TaskType) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(taskType)
}

// Heartbeat extends the lease on a running task.
func (s *TaskService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	updated, err := s.repo.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat task %s: %w", id, err)
	}
	if s.logger != nil && updated {
		s.logger.DebugContext(ctx, "task heartbeat updated", "id", id, "extend_seconds", decision.Seconds)
	}
	return updated, nil
}

// Complete marks a task as completed successfully.
func (s *TaskService) Complete(ctx context.Context, id string) (bool, error) {
	completed, err := s.repo.Complete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete task %s: %w", id, err)
	}
	if s.logger != nil && completed {
		s.logger.DebugContext(ctx, "task completed", "id", id)
	}
	return completed, nil
}

// Fail records a task failure. The repository decides between retry and final failure.
func (s *TaskService) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}
	failed, err := s.repo.Fail(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail task %s: %w", id, err)
	}
	if s.logger != nil && failed {
		s.logger.DebugContext(ctx, "task failed", "id", id, "error", errMsg)
	}
	return failed, nil
}

// GetByID returns a task by its ID.
func (s *TaskService) GetByID(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task by id %s: %w", id, err)
	}
	return task, nil
}

// Stats returns queue depth by status.
func (s *TaskService) Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error) {
	stats, err := s.repo.Stats(ctx, taskType)
	if err != nil {
		return nil, fmt.Errorf("get task stats for type %s: %w", taskType, err)
	}
	return stats, nil
}

// StopAllListeners stops all active task notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *TaskService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all task listeners")
	}
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
