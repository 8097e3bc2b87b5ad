package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/target/smart-resizer/config"
	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/pricing"
	"github.com/target/smart-resizer/internal/domain/workflow"
	"github.com/target/smart-resizer/internal/observability/metrics"
	"github.com/target/smart-resizer/internal/observability/statsd"
)

// AdmissionServiceOptions groups dependencies for AdmissionService.
type AdmissionServiceOptions struct {
	Jobs        core.JobRepository  // Required
	Store       core.ObjectStore    // Required
	Transformer core.Transformer    // Required: sniffing and metadata
	Queue       core.TaskQueue      // Required
	Catalog     *format.Catalog     // Required
	Pricing     *pricing.Calculator // Optional: priced workflows are quoted when set
	Limiter     core.RateLimiter    // Optional: per-owner rate limit
	Notifier    core.JobNotifier    // Optional
	Metrics     statsd.Sink         // Optional
	Logger      *slog.Logger        // Optional
	Config      config.AdmissionConfig
	// NewID overrides job id generation in tests.
	NewID func() string
}

// AdmissionRequest is one upload.
type AdmissionRequest struct {
	OwnerID  string
	Image    []byte
	Formats  []string
	Pack     string
	Quality  *int
	Priority *int
	Workflow json.RawMessage
}

// Admitted is a job that was stored and queued.
type Admitted struct {
	Job       *model.Job
	MasterURL string
}

// AdmissionService validates uploads and creates resize jobs.
type AdmissionService struct {
	jobs        core.JobRepository
	store       core.ObjectStore
	transformer core.Transformer
	queue       core.TaskQueue
	catalog     *format.Catalog
	pricing     *pricing.Calculator
	limiter     core.RateLimiter
	metrics     statsd.Sink
	logger      *slog.Logger
	cfg         config.AdmissionConfig
	settler     *settler
	newID       func() string
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(opts AdmissionServiceOptions) (*AdmissionService, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Store == nil:
		return nil, errors.New("ObjectStore is required")
	case opts.Transformer == nil:
		return nil, errors.New("Transformer is required")
	case opts.Queue == nil:
		return nil, errors.New("TaskQueue is required")
	case opts.Catalog == nil:
		return nil, errors.New("format catalog is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "admission")
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	cfg := opts.Config
	if cfg.DefaultQuality == 0 {
		cfg.DefaultQuality = 85
	}

	return &AdmissionService{
		jobs:        opts.Jobs,
		store:       opts.Store,
		transformer: opts.Transformer,
		queue:       opts.Queue,
		catalog:     opts.Catalog,
		pricing:     opts.Pricing,
		limiter:     opts.Limiter,
		metrics:     opts.Metrics,
		logger:      logger,
		cfg:         cfg,
		settler:     newSettler(opts.Jobs, opts.Notifier, opts.Metrics, logger),
		newID:       newID,
	}, nil
}

// MustNewAdmissionService constructs an AdmissionService and panics on error.
func MustNewAdmissionService(opts AdmissionServiceOptions) *AdmissionService {
	svc, err := NewAdmissionService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AdmissionService: %v", err))
	}
	return svc
}

// admissionPlan is a validated request.
type admissionPlan struct {
	contentType string
	ext         string
	meta        core.ImageMetadata
	formats     []string
	quality     int
	priority    int
	workflow    []byte
	quote       *pricing.Quote
}

// Admit validates req, stores the master image, inserts the job, and enqueues its resize task.
// Validation failures are returned as *AdmissionError before anything is written.
func (s *AdmissionService) Admit(ctx context.Context, req AdmissionRequest) (*Admitted, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, errors.New("owner id is required")
	}

	if err := s.checkRate(ctx, req.OwnerID); err != nil {
		metrics.EmitAdmission(s.metrics, "RATE_LIMITED")
		return nil, err
	}

	plan, err := s.validate(req)
	if err != nil {
		if ae, ok := AsAdmissionError(err); ok {
			metrics.EmitAdmission(s.metrics, string(ae.Kind))
		}
		return nil, err
	}

	jobID := s.newID()
	masterKey := fmt.Sprintf("masters/%s/%s.%s", req.OwnerID, jobID, plan.ext)
	ref, err := s.store.Put(ctx, masterKey, req.Image, plan.contentType)
	if err != nil {
		metrics.EmitAdmission(s.metrics, "STORAGE_UNAVAILABLE")
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	job, err := s.jobs.Create(ctx, model.CreateJobParams{
		ID:      jobID,
		OwnerID: req.OwnerID,
		Master: model.ImageRef{
			Path:        ref,
			ContentType: plan.contentType,
			Width:       plan.meta.Width,
			Height:      plan.meta.Height,
			SizeBytes:   int64(len(req.Image)),
		},
		RequestedFormats: plan.formats,
		Quality:          plan.quality,
		Priority:         plan.priority,
		Workflow:         plan.workflow,
		Quote:            plan.quote,
	})
	if err != nil {
		metrics.EmitAdmission(s.metrics, "ERROR")
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.enqueue(ctx, job); err != nil {
		metrics.EmitAdmission(s.metrics, "ENQUEUE_FAILED")
		if _, ferr := s.settler.failJob(ctx, job, "enqueue failed: "+err.Error(), err); ferr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to mark job failed after enqueue error", "job_id", job.ID, "error", ferr)
		}
		return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	metrics.EmitAdmission(s.metrics, "OK")
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job admitted",
			"job_id", job.ID,
			"owner_id", job.OwnerID,
			"formats", len(job.RequestedFormats),
			"priority", job.Priority)
	}
	return &Admitted{Job: job, MasterURL: s.store.PublicURL(ref)}, nil
}

func (s *AdmissionService) checkRate(ctx context.Context, owner string) error {
	if s.limiter == nil || s.cfg.RateLimit <= 0 {
		return nil
	}
	window := s.cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	ok, err := s.limiter.Allow(ctx, "admission:"+owner, s.cfg.RateLimit, window)
	if err != nil {
		// A limiter outage must not block uploads.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", "owner_id", owner, "error", err)
		}
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

func (s *AdmissionService) validate(req AdmissionRequest) (*admissionPlan, error) {
	if len(req.Image) == 0 {
		return nil, admissionErr(KindMissingFile, "an image file is required")
	}

	plan := &admissionPlan{}
	plan.contentType = s.transformer.DetectContentType(req.Image)
	if !s.allowedType(plan.contentType) {
		return nil, admissionErr(KindInvalidFileType, "unsupported file type %q", plan.contentType)
	}
	meta, err := s.transformer.ReadMetadata(req.Image)
	if err != nil {
		return nil, admissionErr(KindInvalidFileType, "image could not be decoded")
	}
	plan.meta = meta
	plan.ext = extensionFor(plan.contentType)

	if limit := s.cfg.MaxDimension; limit > 0 && (meta.Width > limit || meta.Height > limit) {
		return nil, admissionErr(KindImageTooLarge, "image is %dx%d, each side must be at most %d", meta.Width, meta.Height, limit)
	}

	formats, err := s.catalog.Expand(req.Formats, req.Pack)
	if err != nil {
		return nil, &AdmissionError{Kind: KindInvalidFormats, Message: "unknown pack", InvalidFormats: []string{req.Pack}}
	}
	if unknown := s.catalog.Unknown(formats); len(unknown) > 0 {
		return nil, &AdmissionError{Kind: KindInvalidFormats, Message: "unknown formats", InvalidFormats: unknown}
	}
	if len(formats) == 0 {
		return nil, admissionErr(KindNoFormats, "at least one format is required")
	}
	plan.formats = formats

	plan.quality = s.cfg.DefaultQuality
	if req.Quality != nil {
		plan.quality = *req.Quality
	}
	if plan.quality < 1 || plan.quality > 100 {
		return nil, admissionErr(KindInvalidQuality, "quality must be between 1 and 100")
	}
	if req.Priority != nil {
		plan.priority = *req.Priority
	}
	if plan.priority < 0 || plan.priority > 100 {
		return nil, admissionErr(KindInvalidPriority, "priority must be between 0 and 100")
	}

	cfg, err := workflow.Decode(req.Workflow)
	if err != nil {
		return nil, admissionErr(KindInvalidWorkflow, "%v", err)
	}
	if plan.workflow, err = workflow.Encode(cfg); err != nil {
		return nil, admissionErr(KindInvalidWorkflow, "%v", err)
	}
	if tier, res, ok := workflow.PricingInputs(cfg); ok && s.pricing != nil {
		q, err := s.pricing.Quote(tier, res, len(formats))
		if err != nil {
			return nil, admissionErr(KindInvalidWorkflow, "%v", err)
		}
		plan.quote = &q
	}

	// Full decode runs last, once every cheap check has passed.
	if err := s.transformer.Verify(req.Image); err != nil {
		return nil, admissionErr(KindInvalidFileType, "image data is truncated or corrupt")
	}
	return plan, nil
}

func (s *AdmissionService) allowedType(ct string) bool {
	if ct == "" {
		return false
	}
	if len(s.cfg.AllowedTypes) == 0 {
		return slices.Contains([]string{"image/jpeg", "image/png", "image/webp"}, ct)
	}
	return slices.Contains(s.cfg.AllowedTypes, ct)
}

func (s *AdmissionService) enqueue(ctx context.Context, job *model.Job) error {
	payload, err := json.Marshal(model.ResizePayload{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		MasterRef:   job.Master.Path,
		ContentType: job.Master.ContentType,
		FormatKeys:  job.RequestedFormats,
		Quality:     job.Quality,
		Workflow:    job.Workflow,
	})
	if err != nil {
		return fmt.Errorf("marshal resize payload: %w", err)
	}
	jobID := job.ID
	_, err = s.queue.Enqueue(ctx, &model.CreateTaskRequest{
		Type:     model.TaskTypeResize,
		Payload:  payload,
		Priority: job.Priority,
		JobID:    &jobID,
	})
	return err
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "bin"
	}
}
