package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/smart-resizer/internal/errors"
	"github.com/target/smart-resizer/internal/service"
)

// API error codes not covered by service.AdmissionKind.
const (
	CodeOwnerRequired    = "OWNER_REQUIRED"
	CodeInvalidOwner     = "INVALID_OWNER"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeRateLimited      = "RATE_LIMITED"
	CodeStorageDown      = "STORAGE_UNAVAILABLE"
	CodeEnqueueFailed    = "ENQUEUE_FAILED"
	CodeJobNotFound      = "JOB_NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeJobInProgress    = "JOB_IN_PROGRESS"
	CodeNoFailedFormats  = "NO_FAILED_FORMATS"
	CodeInvalidPlatform  = "INVALID_PLATFORM"
	CodeInvalidPricing   = "INVALID_PRICING"
	CodeServiceTimeout   = "TIMEOUT"
	CodeInternalError    = "INTERNAL_ERROR"
	internalErrorMessage = "internal server error"
)

// writeServiceError maps service errors onto status codes. Unrecognised errors are logged
// and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if ae, ok := service.AsAdmissionError(err); ok {
		WriteError(w, ErrorParams{
			Code:           http.StatusBadRequest,
			ErrCode:        string(ae.Kind),
			Err:            errors.New(ae.Message),
			InvalidFormats: ae.InvalidFormats,
		})
		return
	}

	p := ErrorParams{Err: err}
	switch {
	case errors.Is(err, service.ErrRateLimited):
		p.Code, p.ErrCode = http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, service.ErrStorageUnavailable):
		p.Code, p.ErrCode = http.StatusServiceUnavailable, CodeStorageDown
	case errors.Is(err, service.ErrEnqueueFailed):
		p.Code, p.ErrCode = http.StatusServiceUnavailable, CodeEnqueueFailed
	case errors.Is(err, service.ErrJobNotFound):
		p.Code, p.ErrCode, p.Err = http.StatusNotFound, CodeJobNotFound, service.ErrJobNotFound
	case errors.Is(err, service.ErrForbidden):
		p.Code, p.ErrCode, p.Err = http.StatusForbidden, CodeForbidden, service.ErrForbidden
	case errors.Is(err, service.ErrJobInProgress):
		p.Code, p.ErrCode, p.Err = http.StatusConflict, CodeJobInProgress, service.ErrJobInProgress
	case errors.Is(err, service.ErrNoFailedFormats):
		p.Code, p.ErrCode, p.Err = http.StatusBadRequest, CodeNoFailedFormats, service.ErrNoFailedFormats
	case errors.Is(err, context.DeadlineExceeded), apperrors.IsTimeout(err):
		p.Code, p.ErrCode = http.StatusGatewayTimeout, CodeServiceTimeout
	case apperrors.IsValidation(err):
		p.Code, p.ErrCode = http.StatusBadRequest, CodeInvalidRequest
	default:
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}
		p.Code, p.ErrCode, p.Err = http.StatusInternalServerError, CodeInternalError, errors.New(internalErrorMessage)
	}
	WriteError(w, p)
}
