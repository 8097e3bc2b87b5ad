package model

import "time"

// ResultStatus is the per-format outcome.
type ResultStatus string

const (
	ResultStatusPending   ResultStatus = "pending"
	ResultStatusCompleted ResultStatus = "completed"
	ResultStatusFailed    ResultStatus = "failed"
)

// Valid reports whether s is a known result status.
func (s ResultStatus) Valid() bool {
	return s == ResultStatusPending || s == ResultStatusCompleted || s == ResultStatusFailed
}

// Terminal reports whether s is completed or failed.
func (s ResultStatus) Terminal() bool {
	return s == ResultStatusCompleted || s == ResultStatusFailed
}

// Result is the outcome of one format for one job. (job_id, format_key) is unique.
type Result struct {
	JobID            string       `json:"job_id"                 db:"job_id"`
	FormatKey        string       `json:"format_key"             db:"format_key"`
	Status           ResultStatus `json:"status"                 db:"status"`
	OutputRef        *string      `json:"output_ref,omitempty"   db:"output_ref"`
	ErrorReason      *string      `json:"error_reason,omitempty" db:"error_reason"`
	Width            int          `json:"width"                  db:"width"`
	Height           int          `json:"height"                 db:"height"`
	SizeBytes        int64        `json:"size_bytes"             db:"size_bytes"`
	ProcessingTimeMs int64        `json:"processing_time_ms"     db:"processing_time_ms"`
	Attempts         int          `json:"attempts"               db:"attempts"`
	CreatedAt        time.Time    `json:"created_at"             db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"             db:"updated_at"`
}

// UpsertResultParams writes a terminal outcome for one format.
type UpsertResultParams struct {
	JobID            string
	FormatKey        string
	Status           ResultStatus
	OutputRef        *string
	ErrorReason      *string
	Width            int
	Height           int
	SizeBytes        int64
	ProcessingTimeMs int64
}

// CompletedResult builds params for a successful format.
func CompletedResult(jobID, key, ref string, width, height int, size int64, elapsed time.Duration) UpsertResultParams {
	return UpsertResultParams{
		JobID:            jobID,
		FormatKey:        key,
		Status:           ResultStatusCompleted,
		OutputRef:        &ref,
		Width:            width,
		Height:           height,
		SizeBytes:        size,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}

// FailedResult builds params for a failed format.
func FailedResult(jobID, key, reason string, elapsed time.Duration) UpsertResultParams {
	return UpsertResultParams{
		JobID:            jobID,
		FormatKey:        key,
		Status:           ResultStatusFailed,
		ErrorReason:      &reason,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}
