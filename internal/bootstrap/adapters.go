package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/smart-resizer/config"
	"github.com/target/smart-resizer/internal/adapters/jobrunner"
	"github.com/target/smart-resizer/internal/adapters/reaper"
	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/observability/statsd"
	"github.com/target/smart-resizer/internal/service"
)

// ResizerConfig contains configuration for the resize worker pool.
type ResizerConfig struct {
	Tasks       *service.TaskService
	Worker      *service.ResizeWorker
	Logger      *slog.Logger
	Lease       time.Duration
	Concurrency int
	Metrics     statsd.Sink
}

// RunResizer leases resize tasks and hands them to the worker until ctx is canceled.
func RunResizer(ctx context.Context, cfg ResizerConfig) error {
	if cfg.Tasks == nil || cfg.Worker == nil {
		return errors.New("task service and resize worker are required")
	}

	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Tasks:       cfg.Tasks,
		Logger:      cfg.Logger,
		Lease:       cfg.Lease,
		Concurrency: cfg.Concurrency,
		TaskType:    cfg.Worker.TaskType(),
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create resize runner: %w", err)
	}
	runner.Register(cfg.Worker.TaskType(), cfg.Worker.Handle)

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run resize runner: %w", runErr)
	}
	return nil
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB       *sql.DB
	Logger   *slog.Logger
	Config   config.ReaperConfig
	Metrics  statsd.Sink
	Notifier core.JobNotifier
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:       cfg.DB,
		Config:   cfg.Config,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Notifier: cfg.Notifier,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
