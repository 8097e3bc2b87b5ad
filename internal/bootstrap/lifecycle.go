package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/smart-resizer/config"
	"golang.org/x/sync/errgroup"
)

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// ErrShutdownTimeout is returned when services outlive shutdownWaitTimeout.
var ErrShutdownTimeout = errors.New("timed out waiting for services to stop")

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

func newResizerBackgroundService(cfg *ServiceOrchestrationConfig) backgroundService {
	return backgroundService{
		mode: config.ServiceModeResizer,
		name: "resizer",
		start: func(ctx context.Context) error {
			return RunResizer(ctx, ResizerConfig{
				Tasks:       cfg.Services.Tasks,
				Worker:      cfg.Services.Worker,
				Logger:      cfg.Logger,
				Lease:       cfg.Config.Resizer.TaskLease,
				Concurrency: cfg.Config.Resizer.Concurrency,
				Metrics:     cfg.Services.Observability.metrics(),
			})
		},
	}
}

func newReaperBackgroundService(cfg *ServiceOrchestrationConfig) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			rc := ReaperConfig{
				DB:      cfg.DB,
				Logger:  cfg.Logger,
				Config:  cfg.Config.Reaper,
				Metrics: cfg.Services.Observability.metrics(),
			}
			if n := cfg.Services.Observability.Notifier; n != nil {
				rc.Notifier = n
			}
			return RunReaper(ctx, rc)
		},
	}
}

// enabledBackgroundServices filters the known background services by the SERVICES setting.
func enabledBackgroundServices(cfg *ServiceOrchestrationConfig, enabled map[config.ServiceMode]bool) []backgroundService {
	all := []backgroundService{
		newResizerBackgroundService(cfg),
		newReaperBackgroundService(cfg),
	}
	out := make([]backgroundService, 0, len(all))
	for _, svc := range all {
		if enabled[svc.mode] {
			out = append(out, svc)
		}
	}
	return out
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server = NewHTTPServer(&HTTPServerConfig{
			Config:      cfg.Config,
			Services:    cfg.Services,
			DB:          cfg.DB,
			RedisClient: cfg.RedisClient,
			Logger:      cfg.Logger,
		})
	}

	err = runServices(ctx, runPlan{
		server:      server,
		httpTimeout: cfg.Config.HTTP.ShutdownTimeout,
		background:  enabledBackgroundServices(cfg, enabled),
		drainWait:   shutdownWaitTimeout,
		logger:      cfg.Logger,
	})
	if cfg.Services.Tasks != nil {
		cfg.Services.Tasks.StopAllListeners()
	}
	if cerr := cfg.Services.Observability.Close(); cerr != nil {
		cfg.Logger.Warn("close observability sinks", "error", cerr)
	}
	return err
}

type runPlan struct {
	server      *http.Server
	httpTimeout time.Duration
	background  []backgroundService
	drainWait   time.Duration
	logger      *slog.Logger
}

// runServices runs the HTTP server and background services in one errgroup. The first failure
// or the cancellation of ctx stops everything; stragglers get drainWait to return.
func runServices(ctx context.Context, plan runPlan) error {
	g, gctx := errgroup.WithContext(ctx)

	if plan.server != nil {
		g.Go(func() error {
			if err := serveHTTP(plan.server, plan.logger); err != nil {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return ShutdownHTTPServer(ShutdownConfig{
				Server:  plan.server,
				Timeout: plan.httpTimeout,
				Logger:  plan.logger,
			})
		})
	}

	for _, svc := range plan.background {
		g.Go(func() error {
			plan.logger.InfoContext(gctx, "background service started", "service", svc.name, "mode", svc.mode)
			err := svc.start(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s failed: %w", svc.name, err)
			}
			plan.logger.Info(svc.name + " stopped")
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
	}

	if ctx.Err() != nil {
		plan.logger.Info("shutting down services...")
	}

	wait := plan.drainWait
	if wait <= 0 {
		wait = shutdownWaitTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			plan.logger.Error("service error", "error", err)
		}
		return err
	case <-timer.C:
		plan.logger.Warn("timeout waiting for services to stop", "timeout", wait)
		return ErrShutdownTimeout
	}
}
