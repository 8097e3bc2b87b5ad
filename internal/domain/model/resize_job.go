package model

import (
	"encoding/json"
	"time"

	"github.com/target/smart-resizer/internal/domain/pricing"
)

// JobStatus is the lifecycle state of a resize job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the job state machine permits s -> to.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusProcessing || to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusCompleted, JobStatusFailed:
		return to == JobStatusProcessing
	}
	return false
}

// ImageRef points at a stored master image.
type ImageRef struct {
	Path        string `json:"path"         db:"master_path"`
	ContentType string `json:"content_type" db:"master_content_type"`
	Width       int    `json:"width"        db:"master_width"`
	Height      int    `json:"height"       db:"master_height"`
	SizeBytes   int64  `json:"size_bytes"   db:"master_bytes"`
}

// Job is one resize batch: a master image and the formats requested from it.
type Job struct {
	ID               string          `json:"id"                     db:"id"`
	OwnerID          string          `json:"owner_id"               db:"owner_id"`
	Master           ImageRef        `json:"master_image"`
	RequestedFormats []string        `json:"requested_formats"      db:"requested_formats"`
	Quality          int             `json:"quality"                db:"quality"`
	Priority         int             `json:"priority"               db:"priority"`
	Workflow         json.RawMessage `json:"workflow"               db:"workflow"`
	Quote            *pricing.Quote  `json:"quote,omitempty"        db:"quote"`
	Status           JobStatus       `json:"status"                 db:"status"`
	LastError        *string         `json:"last_error,omitempty"   db:"last_error"`
	CreatedAt        time.Time       `json:"created_at"             db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"             db:"updated_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// CreateJobParams carries everything needed to insert a pending job.
type CreateJobParams struct {
	ID               string
	OwnerID          string
	Master           ImageRef
	RequestedFormats []string
	Quality          int
	Priority         int
	Workflow         json.RawMessage
	Quote            *pricing.Quote
}

// JobLookup scopes a read to one owner.
type JobLookup struct {
	ID      string
	OwnerID string
}
