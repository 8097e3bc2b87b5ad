package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResizePayload is the body of a resize task. It carries enough job context that the
// worker does not need to re-read the master image reference.
type ResizePayload struct {
	JobID       string          `json:"job_id"`
	OwnerID     string          `json:"owner_id"`
	MasterRef   string          `json:"master_ref"`
	ContentType string          `json:"content_type"`
	FormatKeys  []string        `json:"format_keys"`
	Quality     int             `json:"quality"`
	Workflow    json.RawMessage `json:"workflow,omitempty"`
	// Attempt is 0 for the admission task and increments on each retry.
	Attempt int `json:"attempt"`
}

// Validate checks required fields.
func (p *ResizePayload) Validate() error {
	if p.JobID == "" {
		return errors.New("job_id is required")
	}
	if p.MasterRef == "" {
		return errors.New("master_ref is required")
	}
	if len(p.FormatKeys) == 0 {
		return errors.New("format_keys is required")
	}
	return nil
}

// DecodeResizePayload parses and validates a task payload.
func DecodeResizePayload(raw json.RawMessage) (*ResizePayload, error) {
	var p ResizePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode resize payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resize payload: %w", err)
	}
	return &p, nil
}
