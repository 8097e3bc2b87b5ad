package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/pricing"
)

// ProgressServiceOptions groups dependencies for ProgressService.
type ProgressServiceOptions struct {
	Jobs    core.JobRepository    // Required
	Results core.ResultRepository // Required
	Store   core.ObjectStore      // Optional: resolves output URLs
}

// ProgressService reads a job, its results, and derived progress straight from the store.
type ProgressService struct {
	jobs    core.JobRepository
	results core.ResultRepository
	store   core.ObjectStore
}

// NewProgressService constructs a ProgressService.
func NewProgressService(opts ProgressServiceOptions) (*ProgressService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("ResultRepository is required")
	}
	return &ProgressService{jobs: opts.Jobs, results: opts.Results, store: opts.Store}, nil
}

// ResultView is a result with its public output URL.
type ResultView struct {
	*model.Result
	URL string `json:"url,omitempty"`
}

// JobStats summarises processing time and pricing for a job.
type JobStats struct {
	TotalProcessingMs   int64 `json:"total_processing_ms"`
	AverageProcessingMs int64 `json:"average_processing_ms"`
	// AdmissionQuote prices every requested format.
	AdmissionQuote *pricing.Quote `json:"admission_quote,omitempty"`
	// SettlementQuote prices only the completed formats.
	SettlementQuote *pricing.Quote `json:"settlement_quote,omitempty"`
}

// JobView is the full read model for one job.
type JobView struct {
	Job      *model.Job     `json:"job"`
	Progress model.Progress `json:"progress"`
	Results  []ResultView   `json:"results"`
	Stats    JobStats       `json:"stats"`
}

// Get returns the job for owner. Missing jobs return ErrJobNotFound and jobs owned by someone
// else return ErrForbidden.
func (s *ProgressService) Get(ctx context.Context, ownerID, jobID string) (*JobView, error) {
	job, err := s.jobs.GetForOwner(ctx, model.JobLookup{ID: jobID, OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	results, err := s.results.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	view := &JobView{
		Job:      job,
		Progress: model.ComputeProgress(job.RequestedFormats, results),
		Results:  make([]ResultView, 0, len(results)),
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		rv := ResultView{Result: r}
		if r.OutputRef != nil && s.store != nil {
			rv.URL = s.store.PublicURL(*r.OutputRef)
		}
		view.Results = append(view.Results, rv)
	}
	view.Stats = computeStats(job, results, view.Progress)
	return view, nil
}

func computeStats(job *model.Job, results []*model.Result, p model.Progress) JobStats {
	requested := make(map[string]struct{}, len(job.RequestedFormats))
	for _, k := range job.RequestedFormats {
		requested[k] = struct{}{}
	}

	var st JobStats
	var timed int64
	for _, r := range results {
		if r == nil || !r.Status.Terminal() {
			continue
		}
		if _, ok := requested[r.FormatKey]; !ok {
			continue
		}
		st.TotalProcessingMs += r.ProcessingTimeMs
		timed++
	}
	if timed > 0 {
		st.AverageProcessingMs = st.TotalProcessingMs / timed
	}
	if job.Quote != nil {
		admission := *job.Quote
		st.AdmissionQuote = &admission
		settled := rescaleQuote(admission, p.Completed)
		st.SettlementQuote = &settled
	}
	return st
}

// rescaleQuote reprices q for n units at the rates it was issued with.
func rescaleQuote(q pricing.Quote, n int) pricing.Quote {
	q.UnitCount = n
	q.TotalCost = q.CostPerUnit * pricing.Micros(n)
	q.TotalRevenue = q.RevenuePerUnit * pricing.Micros(n)
	q.Profit = q.TotalRevenue - q.TotalCost
	return q
}
