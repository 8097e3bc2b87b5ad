package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data/pgxutil"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/pricing"
	apperrors "github.com/target/smart-resizer/internal/errors"
)

// JobRepo stores resize jobs in resize_jobs.
type JobRepo struct {
	DB  *sql.DB
	cfg RepoConfig
}

var _ core.JobRepository = (*JobRepo)(nil)

// NewJobRepo creates a JobRepo.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	return &JobRepo{DB: db, cfg: cfg}
}

const jobColumns = `
  id::text,
  owner_id,
  master_path,
  master_content_type,
  master_width,
  master_height,
  master_bytes,
  requested_formats,
  quality,
  priority,
  workflow,
  quote,
  status,
  last_error,
  created_at,
  updated_at,
  started_at,
  completed_at
`

// Create inserts a pending job. An empty params.ID gets a fresh UUID.
func (r *JobRepo) Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error) {
	if len(params.RequestedFormats) == 0 {
		return nil, apperrors.ValidationField("requested_formats", "at least one format is required")
	}
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	workflow := []byte(params.Workflow)
	if len(workflow) == 0 {
		workflow = []byte(`{}`)
	}
	var quote []byte
	if params.Quote != nil {
		b, err := json.Marshal(params.Quote)
		if err != nil {
			return nil, fmt.Errorf("encode quote: %w", err)
		}
		quote = b
	}

	now := r.cfg.clock().Now()
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		row := conn.QueryRow(ctx, `
			INSERT INTO resize_jobs (
			  id, owner_id, master_path, master_content_type, master_width, master_height,
			  master_bytes, requested_formats, quality, priority, workflow, quote, status,
			  created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'pending', $13, $13)
			RETURNING `+jobColumns,
			id, params.OwnerID, params.Master.Path, params.Master.ContentType,
			params.Master.Width, params.Master.Height, params.Master.SizeBytes,
			params.RequestedFormats, params.Quality, params.Priority, workflow, quote, now,
		)
		var scanErr error
		job, scanErr = scanJob(row)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// GetByID fetches a job regardless of owner.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var scanErr error
		job, scanErr = scanJob(conn.QueryRow(ctx, `SELECT `+jobColumns+` FROM resize_jobs WHERE id = $1`, id))
		return scanErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetForOwner fetches a job and checks ownership. A missing job is ErrJobNotFound, a job
// owned by someone else is ErrJobForbidden.
func (r *JobRepo) GetForOwner(ctx context.Context, lookup model.JobLookup) (*model.Job, error) {
	job, err := r.GetByID(ctx, lookup.ID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != lookup.OwnerID {
		return nil, ErrJobForbidden
	}
	return job, nil
}

// MarkProcessing moves a pending or processing job to processing and stamps started_at once.
func (r *JobRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	now := r.cfg.clock().Now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE resize_jobs
		SET status = 'processing',
		    started_at = COALESCE(started_at, $2),
		    updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, now)
	ok, err := affected(res, err, "mark job processing")
	if err != nil || ok {
		return ok, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkFailed fails a job that is not yet terminal.
func (r *JobRepo) MarkFailed(ctx context.Context, params core.MarkJobFailedParams) (bool, error) {
	now := r.cfg.clock().Now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE resize_jobs
		SET status = 'failed',
		    last_error = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, params.ID, params.Reason, now)
	return affected(res, err, "mark job failed")
}

// Settle recomputes progress under the job row lock and applies a terminal status once no
// format is pending. Settlement of an already terminal job reports Changed=false.
func (r *JobRepo) Settle(ctx context.Context, id string) (*core.Settlement, error) {
	var out *core.Settlement
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			job, err := lockJob(ctx, tx, id)
			if err != nil {
				return err
			}
			results, err := listResults(ctx, tx, id)
			if err != nil {
				return err
			}
			progress := model.ComputeProgress(job.RequestedFormats, results)
			out = &core.Settlement{Job: job, Progress: progress, Results: results}

			status, settled := model.SettledStatus(progress)
			if !settled || job.Status != model.JobStatusProcessing {
				return nil
			}
			var lastErr *string
			if status == model.JobStatusFailed {
				reason := fmt.Sprintf("all %d formats failed", progress.Failed)
				lastErr = &reason
			}
			now := r.cfg.clock().Now()
			if _, err := tx.Exec(ctx, `
				UPDATE resize_jobs
				SET status = $2, last_error = $3, completed_at = $4, updated_at = $4
				WHERE id = $1
			`, id, status, lastErr, now); err != nil {
				return fmt.Errorf("apply settled status: %w", err)
			}
			job.Status = status
			job.LastError = lastErr
			job.CompletedAt = &now
			job.UpdatedAt = now
			out.Changed = true
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReopenForRetry resets every failed result of a terminal job to pending and moves the job
// back to processing. It returns the reset keys in requested order.
func (r *JobRepo) ReopenForRetry(ctx context.Context, id string) (*core.Reopened, error) {
	var out *core.Reopened
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			job, err := lockJob(ctx, tx, id)
			if err != nil {
				return err
			}
			if !job.Status.Terminal() {
				return ErrJobNotRetryable
			}
			now := r.cfg.clock().Now()
			rows, err := tx.Query(ctx, `
				UPDATE format_results
				SET status = 'pending',
				    error_reason = NULL,
				    output_ref = NULL,
				    attempts = attempts + 1,
				    updated_at = $2
				WHERE job_id = $1 AND status = 'failed'
				RETURNING format_key
			`, id, now)
			if err != nil {
				return fmt.Errorf("reset failed results: %w", err)
			}
			reset, err := pgx.CollectRows(rows, pgx.RowTo[string])
			if err != nil {
				return fmt.Errorf("collect reset keys: %w", err)
			}
			if len(reset) == 0 {
				return ErrNoFailedFormats
			}

			if _, err := tx.Exec(ctx, `
				UPDATE resize_jobs
				SET status = 'processing', completed_at = NULL, last_error = NULL, updated_at = $2
				WHERE id = $1
			`, id, now); err != nil {
				return fmt.Errorf("reopen job: %w", err)
			}
			job.Status = model.JobStatusProcessing
			job.CompletedAt = nil
			job.LastError = nil
			job.UpdatedAt = now
			out = &core.Reopened{Job: job, FormatKeys: inRequestedOrder(job.RequestedFormats, reset)}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lockJob(ctx context.Context, tx pgx.Tx, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM resize_jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}
	return job, nil
}

// inRequestedOrder orders keys by their position in requested; keys outside requested go last.
func inRequestedOrder(requested, keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(keys))
	for _, k := range requested {
		if _, ok := set[k]; ok {
			out = append(out, k)
			delete(set, k)
		}
	}
	for _, k := range keys {
		if _, ok := set[k]; ok {
			out = append(out, k)
			delete(set, k)
		}
	}
	return out
}

type jobRow struct {
	workflow, quote        []byte
	lastError              sql.NullString
	startedAt, completedAt sql.NullTime
}

func scanJob(s rowScanner) (*model.Job, error) {
	j := &model.Job{}
	var d jobRow
	if err := s.Scan(
		&j.ID,
		&j.OwnerID,
		&j.Master.Path,
		&j.Master.ContentType,
		&j.Master.Width,
		&j.Master.Height,
		&j.Master.SizeBytes,
		&j.RequestedFormats,
		&j.Quality,
		&j.Priority,
		&d.workflow,
		&d.quote,
		&j.Status,
		&d.lastError,
		&j.CreatedAt,
		&j.UpdatedAt,
		&d.startedAt,
		&d.completedAt,
	); err != nil {
		return nil, err
	}
	j.Workflow = cloneJSON(d.workflow, `{}`)
	j.LastError = cloneNullableString(d.lastError)
	j.StartedAt = cloneNullableTime(d.startedAt)
	j.CompletedAt = cloneNullableTime(d.completedAt)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if q := strings.TrimSpace(string(d.quote)); q != "" && q != "null" {
		var quote pricing.Quote
		if err := json.Unmarshal(d.quote, &quote); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		j.Quote = &quote
	}
	return j, nil
}
