package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeResizer runs the resize task workers.
	ServiceModeResizer ServiceMode = "resizer"
	// ServiceModeReaper runs stale job and task cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeResizer, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeResizer, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, resizer, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ResizerConfig contains resize worker configuration.
type ResizerConfig struct {
	// Concurrency is the number of worker goroutines, each holding one leased task.
	Concurrency int `env:"RESIZER_CONCURRENCY" envDefault:"2"`

	// TaskLease is how long a reserved task stays leased between heartbeats.
	TaskLease time.Duration `env:"RESIZER_TASK_LEASE" envDefault:"60s"`

	// FormatConcurrency bounds how many formats of one job render at once.
	FormatConcurrency int `env:"RESIZER_FORMAT_CONCURRENCY" envDefault:"4"`

	// FormatTimeout bounds one format's transform. Expiry fails that format.
	FormatTimeout time.Duration `env:"RESIZER_FORMAT_TIMEOUT" envDefault:"30s"`

	// MaxRetries is how many times a task is attempted before it is failed for good.
	MaxRetries int `env:"RESIZER_MAX_RETRIES" envDefault:"3"`

	// RetryDelay is how long a failed task waits before it becomes runnable again.
	RetryDelay time.Duration `env:"RESIZER_RETRY_DELAY" envDefault:"30s"`
}

// Sanitize applies guardrails to resize worker configuration values.
func (r *ResizerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.TaskLease < 5*time.Second {
		r.TaskLease = 5 * time.Second
	}
	if r.FormatConcurrency < 1 {
		r.FormatConcurrency = 1
	}
	if r.FormatTimeout < time.Second {
		r.FormatTimeout = time.Second
	}
	if r.MaxRetries < 1 {
		r.MaxRetries = 1
	}
	if r.RetryDelay < time.Second {
		r.RetryDelay = time.Second
	}
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is how long a job or task may stay pending before it is failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`

	// ProcessingMaxAge is how long a job may stay processing before it is failed.
	ProcessingMaxAge time.Duration `env:"REAPER_PROCESSING_MAX_AGE" envDefault:"2h"`

	// TaskRetention is how long completed and failed tasks are kept.
	TaskRetention time.Duration `env:"REAPER_TASK_RETENTION" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.ProcessingMaxAge < 10*time.Minute {
		r.ProcessingMaxAge = 10 * time.Minute
	}
	if r.TaskRetention < 1*time.Hour {
		r.TaskRetention = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
