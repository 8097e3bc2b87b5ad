// Package model defines the data types shared by the resize pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskType names the kind of work a queued task carries.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TaskType string

// TaskStatus is the queue-level state of a task.
type TaskStatus string

const (
	// TaskTypeResize fans a job's formats out to the image transformer.
	TaskTypeResize TaskType = "resize"

	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ErrNoTasksAvailable is returned when nothing can be reserved.
var ErrNoTasksAvailable = errors.New("no tasks available")

// UnmarshalText implements encoding.TextUnmarshaler so TaskType works with env parsing.
func (t *TaskType) UnmarshalText(text []byte) error {
	v := TaskType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid TaskType: %q", v)
	}
	*t = v
	return nil
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	return t == TaskTypeResize
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Task is one unit of queued work.
type Task struct {
	ID             string          `json:"id"                         db:"id"`
	Type           TaskType        `json:"type"                       db:"type"`
	Status         TaskStatus      `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	JobID          *string         `json:"job_id,omitempty"           db:"job_id"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateTaskRequest describes a task to enqueue.
type CreateTaskRequest struct {
	Type        TaskType        `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority,omitempty"`
	JobID       *string         `json:"job_id,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  int             `json:"max_retries"`
}

// Validate checks the request fields.
func (r *CreateTaskRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid task type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// TaskStats counts tasks by status.
type TaskStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
