package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data"
	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/workflow"
	"github.com/target/smart-resizer/internal/observability/metrics"
	"github.com/target/smart-resizer/internal/observability/statsd"
)

const (
	defaultFormatConcurrency = 4
	defaultFormatTimeout     = 30 * time.Second
)

// ResizeWorkerOptions groups dependencies for ResizeWorker.
type ResizeWorkerOptions struct {
	Jobs        core.JobRepository    // Required
	Results     core.ResultRepository // Required
	Store       core.ObjectStore      // Required
	Transformer core.Transformer      // Required
	Catalog     *format.Catalog       // Required
	Notifier    core.JobNotifier      // Optional
	Metrics     statsd.Sink           // Optional
	Logger      *slog.Logger          // Optional

	// FormatConcurrency bounds parallel renders within one task.
	FormatConcurrency int
	// FormatTimeout bounds a single render.
	FormatTimeout time.Duration
}

// ResizeWorker handles resize tasks: it renders every pending format of a job and settles it.
type ResizeWorker struct {
	jobs        core.JobRepository
	results     core.ResultRepository
	store       core.ObjectStore
	transformer core.Transformer
	catalog     *format.Catalog
	metrics     statsd.Sink
	logger      *slog.Logger
	settler     *settler
	concurrency int
	timeout     time.Duration
}

// NewResizeWorker constructs a ResizeWorker.
func NewResizeWorker(opts ResizeWorkerOptions) (*ResizeWorker, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Results == nil:
		return nil, errors.New("ResultRepository is required")
	case opts.Store == nil:
		return nil, errors.New("ObjectStore is required")
	case opts.Transformer == nil:
		return nil, errors.New("Transformer is required")
	case opts.Catalog == nil:
		return nil, errors.New("format catalog is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "resize_worker")

	concurrency := opts.FormatConcurrency
	if concurrency <= 0 {
		concurrency = defaultFormatConcurrency
	}
	timeout := opts.FormatTimeout
	if timeout <= 0 {
		timeout = defaultFormatTimeout
	}

	return &ResizeWorker{
		jobs:        opts.Jobs,
		results:     opts.Results,
		store:       opts.Store,
		transformer: opts.Transformer,
		catalog:     opts.Catalog,
		metrics:     opts.Metrics,
		logger:      logger,
		settler:     newSettler(opts.Jobs, opts.Notifier, opts.Metrics, logger),
		concurrency: concurrency,
		timeout:     timeout,
	}, nil
}

// MustNewResizeWorker constructs a ResizeWorker and panics on error.
func MustNewResizeWorker(opts ResizeWorkerOptions) *ResizeWorker {
	w, err := NewResizeWorker(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ResizeWorker: %v", err))
	}
	return w
}

// TaskType is the queue task type this worker consumes.
func (w *ResizeWorker) TaskType() model.TaskType { return model.TaskTypeResize }

// Handle processes one resize task. Per-format failures become failed results; only
// infrastructure errors are returned, and the queue retries those.
func (w *ResizeWorker) Handle(ctx context.Context, task *model.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	p, err := model.DecodeResizePayload(task.Payload)
	if err != nil {
		return err
	}
	log := w.logger.With("job_id", p.JobID, "task_id", task.ID, "attempt", p.Attempt)

	started, err := w.jobs.MarkProcessing(ctx, p.JobID)
	if errors.Is(err, data.ErrJobNotFound) {
		log.WarnContext(ctx, "dropping resize task for missing job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if !started {
		if p.Attempt == 0 {
			log.InfoContext(ctx, "duplicate delivery for terminal job, skipping")
		} else {
			log.InfoContext(ctx, "job settled before retry ran, skipping")
		}
		return nil
	}

	existing, err := w.results.ListByJob(ctx, p.JobID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	pending := pendingKeys(p.FormatKeys, existing)
	if len(pending) == 0 {
		_, err := w.settler.settle(ctx, p.JobID)
		return err
	}

	master, err := w.store.Get(ctx, p.MasterRef)
	if err != nil {
		if !finalAttempt(task) {
			return fmt.Errorf("read master image: %w", err)
		}
		// Out of retries: record the outage against each format so the job can settle.
		log.ErrorContext(ctx, "master image unavailable on final attempt", "error", err)
		if ferr := w.failAll(ctx, p.JobID, pending, "master image unavailable: "+err.Error()); ferr != nil {
			return ferr
		}
		_, serr := w.settler.settle(ctx, p.JobID)
		return serr
	}

	cfg, err := workflow.Decode(p.Workflow)
	if err != nil {
		log.WarnContext(ctx, "undecodable workflow on task, using default", "error", err)
		cfg = workflow.Default()
	}
	opts := renderOptions{quality: p.Quality, fit: workflow.Fit(cfg)}
	if sr, ok := cfg.(workflow.SmartResizerConfig); ok {
		opts.background = sr.Background
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, key := range pending {
		g.Go(func() error {
			return w.runUnit(gctx, p.JobID, key, master, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := w.settler.settle(ctx, p.JobID); err != nil {
		return err
	}
	log.DebugContext(ctx, "resize task finished", "formats", len(pending))
	return nil
}

type renderOptions struct {
	quality    int
	fit        workflow.FitMode
	background string
}

// runUnit renders one format and records its result. Only a failed result write, or
// cancellation of the task itself, is returned.
func (w *ResizeWorker) runUnit(ctx context.Context, jobID, key string, master []byte, opts renderOptions) error {
	start := time.Now()
	ref, out, timedOut, err := w.render(ctx, jobID, key, master, opts)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		// The task is shutting down; leave the format pending for the next delivery.
		return ctx.Err()
	}

	var params model.UpsertResultParams
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		params = model.FailedResult(jobID, key, err.Error(), elapsed)
		w.logger.WarnContext(ctx, "format failed", "job_id", jobID, "format", key, "error", err)
	} else {
		params = model.CompletedResult(jobID, key, ref, out.Width, out.Height, int64(len(out.Data)), elapsed)
	}

	if _, uerr := w.results.Upsert(ctx, params); uerr != nil {
		return fmt.Errorf("record result for %s: %w", key, uerr)
	}
	metrics.EmitFormatResult(w.metrics, metrics.FormatMetric{
		FormatKey: key,
		Result:    result,
		TimedOut:  timedOut,
		Duration:  elapsed,
	})
	return nil
}

func (w *ResizeWorker) render(
	ctx context.Context,
	jobID, key string,
	master []byte,
	opts renderOptions,
) (ref string, out *core.ResizeOutput, timedOut bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while rendering: %v", r)
		}
	}()

	spec, err := w.catalog.Lookup(key)
	if err != nil {
		return "", nil, false, err
	}

	uctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	out, err = w.transformer.Resize(uctx, core.ResizeRequest{
		Source:     master,
		Width:      spec.Width,
		Height:     spec.Height,
		Quality:    opts.quality,
		Fit:        string(opts.fit),
		Background: opts.background,
	})
	if err == nil && uctx.Err() != nil {
		err = uctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", nil, true, fmt.Errorf("timed out after %s", w.timeout)
		}
		return "", nil, false, fmt.Errorf("resize: %w", err)
	}

	ref, err = w.store.Put(ctx, fmt.Sprintf("outputs/%s/%s.%s", jobID, key, out.Ext), out.Data, out.ContentType)
	if err != nil {
		return "", nil, false, fmt.Errorf("store output: %w", err)
	}
	return ref, out, false, nil
}

func (w *ResizeWorker) failAll(ctx context.Context, jobID string, keys []string, reason string) error {
	for _, key := range keys {
		if _, err := w.results.Upsert(ctx, model.FailedResult(jobID, key, reason, 0)); err != nil {
			return fmt.Errorf("record result for %s: %w", key, err)
		}
	}
	return nil
}

// pendingKeys returns requested keys without a completed result, in requested order.
func pendingKeys(requested []string, existing []*model.Result) []string {
	done := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		if r != nil && r.Status == model.ResultStatusCompleted {
			done[r.FormatKey] = struct{}{}
		}
	}
	out := make([]string, 0, len(requested))
	for _, k := range format.Dedupe(requested) {
		if _, ok := done[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// finalAttempt reports whether a failure now would exhaust the task's retries.
func finalAttempt(task *model.Task) bool {
	return task.MaxRetries > 0 && task.RetryCount+1 >= task.MaxRetries
}
