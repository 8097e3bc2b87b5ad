// Package reaper provides adapters for running the job reaper.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/smart-resizer/config"
	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data"
	"github.com/target/smart-resizer/internal/observability/statsd"
	"github.com/target/smart-resizer/internal/service"
)

// Runner provides a simple adapter to run the reaper loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ReaperConfig
	Logger *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo     core.ReaperRepository
	Jobs     core.JobRepository
	Results  core.ResultRepository
	Notifier core.JobNotifier
	Metrics  statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := wireReaperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: reaper, logger: opts.Logger}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireReaperService fills any repository not injected from opts.DB.
func wireReaperService(opts RunnerOptions) (*service.ReaperService, error) {
	repoCfg := data.RepoConfig{Logger: opts.Logger}
	if opts.Repo == nil {
		opts.Repo = data.NewReaperRepo(opts.DB, repoCfg)
	}
	// Notifications need the job and result reads; without a DB they stay off.
	if opts.Notifier != nil && opts.DB != nil {
		if opts.Jobs == nil {
			opts.Jobs = data.NewJobRepo(opts.DB, repoCfg)
		}
		if opts.Results == nil {
			opts.Results = data.NewResultRepo(opts.DB, repoCfg)
		}
	}

	return service.NewReaperService(service.ReaperServiceOptions{
		Repo:     opts.Repo,
		Config:   opts.Config,
		Jobs:     opts.Jobs,
		Results:  opts.Results,
		Notifier: opts.Notifier,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// RunOnce performs a single reaper pass.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.reaper.RunOnce(ctx)
}
