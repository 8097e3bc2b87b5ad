package data

import "errors"

// Sentinel errors returned by the repositories.
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobForbidden = errors.New("job belongs to another owner")
	ErrTaskNotFound = errors.New("task not found")

	// ErrNoFailedFormats is returned by ReopenForRetry when every result succeeded.
	ErrNoFailedFormats = errors.New("job has no failed formats")
	// ErrJobNotRetryable is returned by ReopenForRetry while the job is still running.
	ErrJobNotRetryable = errors.New("job is not in a terminal status")
)
