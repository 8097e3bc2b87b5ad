package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/target/smart-resizer/internal/data"
)

// AdmissionKind identifies why an upload was rejected. Values double as API error codes.
type AdmissionKind string

const (
	KindMissingFile     AdmissionKind = "MISSING_FILE"
	KindInvalidFileType AdmissionKind = "INVALID_FILE_TYPE"
	KindImageTooLarge   AdmissionKind = "IMAGE_TOO_LARGE"
	KindInvalidFormats  AdmissionKind = "INVALID_FORMATS"
	KindNoFormats       AdmissionKind = "NO_FORMATS"
	KindInvalidQuality  AdmissionKind = "INVALID_QUALITY"
	KindInvalidPriority AdmissionKind = "INVALID_PRIORITY"
	KindInvalidWorkflow AdmissionKind = "INVALID_WORKFLOW"
)

// AdmissionError is a client-side validation failure. Nothing has been stored when it is
// returned.
type AdmissionError struct {
	Kind    AdmissionKind
	Message string
	// InvalidFormats lists unknown keys in request order. Set only for KindInvalidFormats.
	InvalidFormats []string
}

func (e *AdmissionError) Error() string {
	if len(e.InvalidFormats) > 0 {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, strings.Join(e.InvalidFormats, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func admissionErr(kind AdmissionKind, format string, args ...any) *AdmissionError {
	return &AdmissionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsAdmissionError unwraps err into an AdmissionError.
func AsAdmissionError(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

var (
	// ErrRateLimited is returned when an owner exceeds the admission rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrStorageUnavailable is returned when the master image could not be written.
	ErrStorageUnavailable = errors.New("object storage unavailable")
	// ErrEnqueueFailed is returned when a job was stored but its task could not be queued.
	ErrEnqueueFailed = errors.New("enqueue failed")
	// ErrJobInProgress is returned when retrying a job that is still pending or processing.
	ErrJobInProgress = errors.New("job is still in progress")

	ErrJobNotFound     = data.ErrJobNotFound
	ErrForbidden       = data.ErrJobForbidden
	ErrNoFailedFormats = data.ErrNoFailedFormats
)
