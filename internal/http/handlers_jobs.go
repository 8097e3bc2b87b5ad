package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/pricing"
	"github.com/target/smart-resizer/internal/service"
)

// multipartMemory is how much of an upload ParseMultipartForm keeps in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// JobAdmitter creates jobs from uploads.
type JobAdmitter interface {
	Admit(ctx context.Context, req service.AdmissionRequest) (*service.Admitted, error)
}

// JobReader returns the owner's view of a job.
type JobReader interface {
	Get(ctx context.Context, ownerID, jobID string) (*service.JobView, error)
}

// JobRetrier re-runs the failed formats of a job.
type JobRetrier interface {
	Retry(ctx context.Context, ownerID, jobID string) (*service.Retried, error)
}

// JobHandlers provides HTTP handlers for resize jobs.
type JobHandlers struct {
	Admission JobAdmitter
	Progress  JobReader
	Retries   JobRetrier
	// MaxUploadBytes caps the request body; larger uploads get 413.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type createJobResponse struct {
	JobID            string          `json:"jobId"`
	Status           model.JobStatus `json:"status"`
	FormatsRequested []string        `json:"formatsRequested"`
	MasterImageURL   string          `json:"masterImageUrl"`
	CreatedAt        time.Time       `json:"createdAt"`
	Quote            *pricing.Quote  `json:"quote,omitempty"`
}

type retryJobResponse struct {
	JobID          string          `json:"jobId"`
	Status         model.JobStatus `json:"status"`
	RetriedFormats []string        `json:"retriedFormats"`
}

// CreateJob handles POST /api/jobs.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeUploadError(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, err := buildAdmissionRequest(r.MultipartForm)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	req.OwnerID = owner

	admitted, err := h.Admission.Admit(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	job := admitted.Job
	WriteJSON(w, http.StatusCreated, createJobResponse{
		JobID:            job.ID,
		Status:           job.Status,
		FormatsRequested: job.RequestedFormats,
		MasterImageURL:   admitted.MasterURL,
		CreatedAt:        job.CreatedAt,
		Quote:            job.Quote,
	})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	view, err := h.Progress.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// RetryJob handles POST /api/jobs/{id}/retry.
func (h *JobHandlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	retried, err := h.Retries.Retry(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, retryJobResponse{
		JobID:          retried.Job.ID,
		Status:         retried.Job.Status,
		RetriedFormats: retried.RetriedFormats,
	})
}

// fieldError is a malformed multipart field, reported with the admission kind for that field.
type fieldError struct {
	kind service.AdmissionKind
	msg  string
}

func (e *fieldError) Error() string { return e.msg }

func (h *JobHandlers) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	var fe *fieldError
	switch {
	case errors.As(err, &tooLarge):
		WriteError(w, ErrorParams{
			Code:    http.StatusRequestEntityTooLarge,
			ErrCode: CodePayloadTooLarge,
			Err:     fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit),
		})
	case errors.As(err, &fe):
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: string(fe.kind), Err: fe})
	default:
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: CodeInvalidRequest, Err: err})
	}
}

// buildAdmissionRequest reads the upload fields. The image is taken from "image", falling
// back to "file"; a missing file is left for admission to reject.
func buildAdmissionRequest(form *multipart.Form) (service.AdmissionRequest, error) {
	var req service.AdmissionRequest

	image, err := readUpload(form, "image", "file")
	if err != nil {
		return req, err
	}
	req.Image = image

	if req.Formats, err = parseFormats(form.Value["formats"]); err != nil {
		return req, err
	}
	req.Pack = strings.TrimSpace(firstValue(form, "pack"))
	if req.Quality, err = optionalInt(firstValue(form, "quality"), service.KindInvalidQuality, "quality"); err != nil {
		return req, err
	}
	if req.Priority, err = optionalInt(firstValue(form, "priority"), service.KindInvalidPriority, "priority"); err != nil {
		return req, err
	}
	if raw := strings.TrimSpace(firstValue(form, "workflow")); raw != "" {
		if !json.Valid([]byte(raw)) {
			return req, &fieldError{kind: service.KindInvalidWorkflow, msg: "workflow must be valid JSON"}
		}
		req.Workflow = json.RawMessage(raw)
	}
	return req, nil
}

func readUpload(form *multipart.Form, fields ...string) ([]byte, error) {
	for _, field := range fields {
		headers := form.File[field]
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		defer func() { _ = f.Close() }()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		return data, nil
	}
	return nil, nil
}

// parseFormats accepts a JSON array, a comma-separated list, or repeated fields.
func parseFormats(values []string) ([]string, error) {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.HasPrefix(v, "[") {
			var keys []string
			if err := json.Unmarshal([]byte(v), &keys); err != nil {
				return nil, &fieldError{
					kind: service.KindInvalidFormats,
					msg:  "formats must be a JSON array of strings or a comma-separated list",
				}
			}
			out = append(out, keys...)
			continue
		}
		out = append(out, strings.Split(v, ",")...)
	}
	keys := make([]string, 0, len(out))
	for _, k := range out {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func optionalInt(raw string, kind service.AdmissionKind, field string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &fieldError{kind: kind, msg: field + " must be an integer"}
	}
	return &n, nil
}

func firstValue(form *multipart.Form, field string) string {
	if vs := form.Value[field]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
