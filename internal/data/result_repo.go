package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data/pgxutil"
	"github.com/target/smart-resizer/internal/domain/model"
	apperrors "github.com/target/smart-resizer/internal/errors"
)

// ResultRepo stores per-format outcomes in format_results.
type ResultRepo struct {
	DB  *sql.DB
	cfg RepoConfig
}

var _ core.ResultRepository = (*ResultRepo)(nil)

// NewResultRepo creates a ResultRepo.
func NewResultRepo(db *sql.DB, cfg RepoConfig) *ResultRepo {
	return &ResultRepo{DB: db, cfg: cfg}
}

const resultColumns = `
  job_id::text,
  format_key,
  status,
  output_ref,
  error_reason,
  width,
  height,
  size_bytes,
  processing_time_ms,
  attempts,
  created_at,
  updated_at
`

// querier is satisfied by *pgx.Conn and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Upsert writes a terminal result. An existing completed row wins and is returned unchanged.
func (r *ResultRepo) Upsert(ctx context.Context, params model.UpsertResultParams) (*model.Result, error) {
	if err := validateUpsert(params); err != nil {
		return nil, err
	}
	now := r.cfg.clock().Now()
	var result *model.Result
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		res, err := scanResult(conn.QueryRow(ctx, `
			INSERT INTO format_results (
			  job_id, format_key, status, output_ref, error_reason, width, height,
			  size_bytes, processing_time_ms, attempts, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
			ON CONFLICT (job_id, format_key) DO UPDATE
			SET status = EXCLUDED.status,
			    output_ref = EXCLUDED.output_ref,
			    error_reason = EXCLUDED.error_reason,
			    width = EXCLUDED.width,
			    height = EXCLUDED.height,
			    size_bytes = EXCLUDED.size_bytes,
			    processing_time_ms = EXCLUDED.processing_time_ms,
			    updated_at = EXCLUDED.updated_at
			WHERE format_results.status <> 'completed'
			RETURNING `+resultColumns,
			params.JobID, params.FormatKey, params.Status, params.OutputRef, params.ErrorReason,
			params.Width, params.Height, params.SizeBytes, params.ProcessingTimeMs, now,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			// The row was already completed; hand back what is stored.
			res, err = scanResult(conn.QueryRow(ctx,
				`SELECT `+resultColumns+` FROM format_results WHERE job_id = $1 AND format_key = $2`,
				params.JobID, params.FormatKey))
		}
		result = res
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert result: %w", apperrors.MapDBError(err))
	}
	return result, nil
}

func validateUpsert(p model.UpsertResultParams) error {
	if _, err := uuid.Parse(p.JobID); err != nil {
		return apperrors.ValidationField("job_id", "job id must be a UUID")
	}
	if p.FormatKey == "" {
		return apperrors.ValidationField("format_key", "format key is required")
	}
	switch p.Status {
	case model.ResultStatusCompleted:
		if p.OutputRef == nil || *p.OutputRef == "" {
			return apperrors.ValidationField("output_ref", "completed result needs an output ref")
		}
	case model.ResultStatusFailed:
		if p.ErrorReason == nil || *p.ErrorReason == "" {
			return apperrors.ValidationField("error_reason", "failed result needs a reason")
		}
	default:
		return apperrors.ValidationField("status", fmt.Sprintf("result status %q cannot be written", p.Status))
	}
	return nil
}

// ListByJob returns a job's results ordered by format key.
func (r *ResultRepo) ListByJob(ctx context.Context, jobID string) ([]*model.Result, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, ErrJobNotFound
	}
	var out []*model.Result
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var err error
		out, err = listResults(ctx, conn, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func listResults(ctx context.Context, q querier, jobID string) ([]*model.Result, error) {
	rows, err := q.Query(ctx,
		`SELECT `+resultColumns+` FROM format_results WHERE job_id = $1 ORDER BY format_key`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []*model.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

func scanResult(s rowScanner) (*model.Result, error) {
	res := &model.Result{}
	var outputRef, errorReason sql.NullString
	if err := s.Scan(
		&res.JobID,
		&res.FormatKey,
		&res.Status,
		&outputRef,
		&errorReason,
		&res.Width,
		&res.Height,
		&res.SizeBytes,
		&res.ProcessingTimeMs,
		&res.Attempts,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return nil, err
	}
	res.OutputRef = cloneNullableString(outputRef)
	res.ErrorReason = cloneNullableString(errorReason)
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	return res, nil
}
