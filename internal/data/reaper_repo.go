package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data/pgxutil"
	"github.com/target/smart-resizer/internal/domain/model"
)

// ReaperRepo implements the cleanup queries. Every sweep takes a transaction-scoped advisory
// lock so only one reaper process does a given sweep at a time.
type ReaperRepo struct {
	DB  *sql.DB
	cfg RepoConfig
}

var _ core.ReaperRepository = (*ReaperRepo)(nil)

// NewReaperRepo creates a ReaperRepo.
func NewReaperRepo(db *sql.DB, cfg RepoConfig) *ReaperRepo {
	return &ReaperRepo{DB: db, cfg: cfg}
}

const failStaleJobsSQL = `
  WITH stale AS (
    SELECT id FROM resize_jobs
    WHERE status = $1 AND updated_at < $2
    ORDER BY updated_at
    LIMIT $3
    FOR UPDATE SKIP LOCKED
  ), failed AS (
    UPDATE resize_jobs j
    SET status = 'failed', last_error = $4, completed_at = $5, updated_at = $5
    FROM stale
    WHERE j.id = stale.id
    RETURNING j.id, j.requested_formats
  ), marked AS (
    INSERT INTO format_results (job_id, format_key, status, error_reason, attempts, created_at, updated_at)
    SELECT f.id, k.key, 'failed', $4, 1, $5, $5
    FROM failed f CROSS JOIN LATERAL unnest(f.requested_formats) AS k(key)
    WHERE $6
    ON CONFLICT (job_id, format_key) DO UPDATE
    SET status = 'failed', error_reason = EXCLUDED.error_reason, updated_at = EXCLUDED.updated_at
    WHERE format_results.status = 'pending'
  )
  SELECT id::text FROM failed`

// FailStaleJobs fails up to BatchSize jobs that have sat in Status longer than MaxAge. For
// processing jobs the unfinished results are failed with the same reason so progress stays
// consistent. Pending jobs never reached the worker, so like an enqueue failure they get no
// results and have nothing to retry.
func (r *ReaperRepo) FailStaleJobs(ctx context.Context, params core.FailStaleJobsParams) ([]string, error) {
	var minor int64
	switch params.Status {
	case model.JobStatusPending:
		minor = advisoryLockReaperFailPendingJobs
	case model.JobStatusProcessing:
		minor = advisoryLockReaperFailProcessingJobs
	default:
		return nil, fmt.Errorf("reaper cannot fail jobs in status %q", params.Status)
	}
	if params.MaxAge <= 0 || params.BatchSize <= 0 {
		return nil, errors.New("max age and batch size must be positive")
	}
	reason := params.Reason
	if reason == "" {
		reason = fmt.Sprintf("job stuck in %s for more than %s", params.Status, params.MaxAge)
	}

	var ids []string
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var locked bool
			if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}
			now := r.cfg.clock().Now()
			rows, err := tx.Query(ctx, failStaleJobsSQL,
				params.Status, now.Add(-params.MaxAge), params.BatchSize, reason, now,
				params.Status == model.JobStatusProcessing)
			if err != nil {
				return fmt.Errorf("fail stale jobs: %w", err)
			}
			ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FailStalePendingTasks fails tasks that were never picked up within maxAge.
func (r *ReaperRepo) FailStalePendingTasks(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if maxAge <= 0 || batchSize <= 0 {
		return 0, errors.New("max age and batch size must be positive")
	}
	now := r.cfg.clock().Now()
	return r.batched(ctx, advisoryLockReaperFailPendingTasks, `
		UPDATE tasks
		SET status = 'failed',
		    last_error = 'task was not picked up before the reaper deadline',
		    completed_at = $3,
		    updated_at = $3
		WHERE id IN (
		  SELECT id FROM tasks
		  WHERE status = 'pending' AND scheduled_at < $1
		  ORDER BY scheduled_at
		  LIMIT $2
		  FOR UPDATE SKIP LOCKED
		)
	`, now.Add(-maxAge), batchSize, now)
}

// DeleteOldTasks prunes completed and failed tasks finished before MaxAge ago.
func (r *ReaperRepo) DeleteOldTasks(ctx context.Context, params core.DeleteOldTasksParams) (int64, error) {
	if params.MaxAge <= 0 || params.BatchSize <= 0 {
		return 0, errors.New("max age and batch size must be positive")
	}
	cutoff := r.cfg.clock().Now().Add(-params.MaxAge)
	return r.batched(ctx, advisoryLockReaperDeleteTasks, `
		DELETE FROM tasks
		WHERE id IN (
		  SELECT id FROM tasks
		  WHERE status IN ('completed', 'failed')
		    AND COALESCE(completed_at, updated_at) < $1
		  ORDER BY COALESCE(completed_at, updated_at)
		  LIMIT $2
		)
	`, cutoff, params.BatchSize)
}

func (r *ReaperRepo) batched(ctx context.Context, minor int64, query string, args ...any) (int64, error) {
	var n int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryAdvisoryXactLock(ctx, tx, advisoryLockReaperMajor, minor)
			if err != nil || !locked {
				return err
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("reaper sweep: %w", err)
			}
			n, err = res.RowsAffected()
			return err
		},
	})
	return n, err
}
