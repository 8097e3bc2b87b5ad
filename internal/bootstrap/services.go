package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/smart-resizer/config"
	"github.com/target/smart-resizer/internal/adapters/imagetransform"
	"github.com/target/smart-resizer/internal/adapters/objectstore"
	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data"
	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/pricing"
	"github.com/target/smart-resizer/internal/observability/notify/kafka"
	"github.com/target/smart-resizer/internal/observability/notify/pagerduty"
	"github.com/target/smart-resizer/internal/observability/notify/slack"
	"github.com/target/smart-resizer/internal/observability/statsd"
	"github.com/target/smart-resizer/internal/service"
	"github.com/target/smart-resizer/internal/service/jobnotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Tasks     *service.TaskService
	Admission *service.AdmissionService
	Progress  *service.ProgressService
	Retries   *service.RetryService
	Worker    *service.ResizeWorker

	Catalog *format.Catalog
	Pricing *pricing.Calculator
	Store   *objectstore.FileStore

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink    *statsd.Client
	MetricsConfig  config.ObservabilityMetricsConfig
	Notifier       *jobnotifier.Service
	NotifierConfig config.ObservabilityNotificationsConfig

	closers []namedCloser
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// Close releases the metrics socket and flushes notification writers.
func (o ObservabilityContainer) Close() error {
	var errs []error
	for _, c := range o.closers {
		if err := c.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// metrics returns the sink as an interface, keeping a nil client a nil interface.
//
//nolint:ireturn // services accept the Sink port.
func (o ObservabilityContainer) metrics() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports; no business rules here.
type serviceRepositories struct {
	DB         *sql.DB
	TaskRepo   *data.TaskRepo
	JobRepo    *data.JobRepo
	ResultRepo *data.ResultRepo
	Limiter    core.RateLimiter
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{
		MetricsConfig:  cfg.Metrics,
		NotifierConfig: cfg.Notifications,
	}

	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.MetricsSink = client
			out.closers = append(out.closers, namedCloser{name: "statsd", closer: client})
		}
	}

	notifier, closers := buildJobNotifier(obsLogger, cfg.Notifications)
	out.Notifier = notifier
	out.closers = append(out.closers, closers...)
	return out
}

// buildJobNotifier registers every enabled sink. A sink that fails to initialise is logged and
// skipped so the rest still deliver.
func buildJobNotifier(
	logger *slog.Logger,
	cfg config.ObservabilityNotificationsConfig,
) (*jobnotifier.Service, []namedCloser) {
	if !cfg.Enabled {
		return jobnotifier.NewService(jobnotifier.Options{Logger: logger}), nil
	}

	var (
		sinks   []jobnotifier.SinkRegistration
		closers []namedCloser
	)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, jobnotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, jobnotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	if cfg.Kafka.Enabled {
		sink, err := kafka.NewSink(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		if err != nil {
			logger.Error("failed to initialise kafka notifier", "error", err)
		} else {
			sinks = append(sinks, jobnotifier.SinkRegistration{Name: "kafka", Sink: sink})
			closers = append(closers, namedCloser{name: "kafka", closer: sink})
		}
	}

	return jobnotifier.NewService(jobnotifier.Options{
		Logger:  logger,
		Sinks:   sinks,
		Timeout: cfg.Timeout,
	}), closers
}

func buildRepositories(deps *ServiceDeps, cfg *config.AppConfig, logger *slog.Logger) (*serviceRepositories, error) {
	repoCfg := data.RepoConfig{
		Logger:            logger,
		RetryDelaySeconds: int(cfg.Resizer.RetryDelay.Seconds()),
	}
	repos := &serviceRepositories{
		DB:         deps.DB,
		TaskRepo:   data.NewTaskRepo(deps.DB, repoCfg),
		JobRepo:    data.NewJobRepo(deps.DB, repoCfg),
		ResultRepo: data.NewResultRepo(deps.DB, repoCfg),
	}

	if deps.RedisClient != nil && cfg.Admission.RateLimit > 0 {
		limiter, err := data.NewRedisRateLimiter(data.RedisRateLimiterOptions{
			Client: deps.RedisClient,
			Prefix: "smart-resizer:admission",
		})
		if err != nil {
			return nil, fmt.Errorf("create rate limiter: %w", err)
		}
		repos.Limiter = limiter
	} else if cfg.Admission.RateLimit > 0 {
		logger.Warn("admission rate limit configured but redis is disabled; limit is not enforced",
			"rate_limit", cfg.Admission.RateLimit)
	}
	return repos, nil
}

// LoadCatalog returns the built-in tables unless a YAML override is configured.
func LoadCatalog(cfg config.CatalogConfig, logger *slog.Logger) (*format.Catalog, *pricing.Calculator, error) {
	catalog := format.Builtin()
	if cfg.FormatsFile != "" {
		loaded, err := format.LoadFile(cfg.FormatsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load format catalog: %w", err)
		}
		catalog = loaded
		logger.Info("format catalog loaded", "path", cfg.FormatsFile, "formats", len(catalog.Keys()))
	}

	calc := pricing.MustNewCalculator(pricing.DefaultTable())
	if cfg.PricingFile != "" {
		loaded, err := pricing.LoadFile(cfg.PricingFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load pricing table: %w", err)
		}
		calc = loaded
		logger.Info("pricing table loaded", "path", cfg.PricingFile)
	}
	return catalog, calc, nil
}

// NewServices wires repositories, adapters, and domain services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	repos, err := buildRepositories(deps, cfg, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	catalog, calc, err := LoadCatalog(cfg.Catalog, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	store, err := objectstore.NewFileStore(objectstore.FileStoreOptions{
		Root:       cfg.Storage.Root,
		BaseURL:    cfg.HTTP.BaseURL,
		PublicPath: cfg.Storage.PublicPath,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create object store: %w", err)
	}

	observability := buildObservability(logger, cfg.Observability)
	container, err := buildDomainServices(&domainServicesOptions{
		Repos:         repos,
		Catalog:       catalog,
		Pricing:       calc,
		Store:         store,
		Transformer:   imagetransform.New(),
		Observability: observability,
		Config:        cfg,
		Logger:        logger,
	})
	if err != nil {
		if cerr := observability.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return ServiceContainer{}, err
	}
	return container, nil
}

type domainServicesOptions struct {
	Repos         *serviceRepositories
	Catalog       *format.Catalog
	Pricing       *pricing.Calculator
	Store         *objectstore.FileStore
	Transformer   core.Transformer
	Observability ObservabilityContainer
	Config        *config.AppConfig
	Logger        *slog.Logger
}

func buildDomainServices(opts *domainServicesOptions) (ServiceContainer, error) {
	cfg := opts.Config
	sink := opts.Observability.metrics()
	notifier := opts.Observability.Notifier

	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:         opts.Repos.TaskRepo,
		DefaultLease: cfg.Resizer.TaskLease,
		Logger:       opts.Logger,
		MaxRetries:   cfg.Resizer.MaxRetries,
	})

	admission, err := service.NewAdmissionService(service.AdmissionServiceOptions{
		Jobs:        opts.Repos.JobRepo,
		Store:       opts.Store,
		Transformer: opts.Transformer,
		Queue:       tasks,
		Catalog:     opts.Catalog,
		Pricing:     opts.Pricing,
		Limiter:     opts.Repos.Limiter,
		Notifier:    notifier,
		Metrics:     sink,
		Logger:      opts.Logger,
		Config:      cfg.Admission,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create admission service: %w", err)
	}

	progress, err := service.NewProgressService(service.ProgressServiceOptions{
		Jobs:    opts.Repos.JobRepo,
		Results: opts.Repos.ResultRepo,
		Store:   opts.Store,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create progress service: %w", err)
	}

	retries, err := service.NewRetryService(service.RetryServiceOptions{
		Jobs:     opts.Repos.JobRepo,
		Results:  opts.Repos.ResultRepo,
		Queue:    tasks,
		Notifier: notifier,
		Metrics:  sink,
		Logger:   opts.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create retry service: %w", err)
	}

	worker, err := service.NewResizeWorker(service.ResizeWorkerOptions{
		Jobs:              opts.Repos.JobRepo,
		Results:           opts.Repos.ResultRepo,
		Store:             opts.Store,
		Transformer:       opts.Transformer,
		Catalog:           opts.Catalog,
		Notifier:          notifier,
		Metrics:           sink,
		Logger:            opts.Logger,
		FormatConcurrency: cfg.Resizer.FormatConcurrency,
		FormatTimeout:     cfg.Resizer.FormatTimeout,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create resize worker: %w", err)
	}

	return ServiceContainer{
		Tasks:         tasks,
		Admission:     admission,
		Progress:      progress,
		Retries:       retries,
		Worker:        worker,
		Catalog:       opts.Catalog,
		Pricing:       opts.Pricing,
		Store:         opts.Store,
		Observability: opts.Observability,
	}, nil
}
