package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data/pgxutil"
	"github.com/target/smart-resizer/internal/domain/model"
	apperrors "github.com/target/smart-resizer/internal/errors"
)

const (
	defaultRetryDelaySeconds = 30
	defaultTaskMaxRetries    = 3
)

// TaskRepo is the Postgres task queue.
type TaskRepo struct {
	DB  *sql.DB
	cfg RepoConfig
}

var _ core.TaskRepository = (*TaskRepo)(nil)

// NewTaskRepo creates a TaskRepo.
func NewTaskRepo(db *sql.DB, cfg RepoConfig) *TaskRepo {
	return &TaskRepo{DB: db, cfg: cfg}
}

const taskColumns = `
  id::text,
  type,
  status,
  priority,
  payload,
  job_id::text,
  scheduled_at,
  started_at,
  completed_at,
  retry_count,
  max_retries,
  last_error,
  lease_expires_at,
  created_at,
  updated_at
`

// Channel a task type's inserts are announced on.
func taskChannel(taskType model.TaskType) string {
	return "task_added_" + string(taskType)
}

func (r *TaskRepo) retryDelay() time.Duration {
	if r.cfg.RetryDelaySeconds > 0 {
		return time.Duration(r.cfg.RetryDelaySeconds) * time.Second
	}
	return defaultRetryDelaySeconds * time.Second
}

// Create inserts a pending task and notifies listeners in the same transaction.
func (r *TaskRepo) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	if req == nil {
		return nil, errors.New("create task request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultTaskMaxRetries
	}
	scheduledAt := r.cfg.clock().Now()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	var task *model.Task
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx, `
				INSERT INTO tasks (type, status, priority, payload, job_id, scheduled_at, max_retries, created_at, updated_at)
				VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $7)
				RETURNING `+taskColumns,
				req.Type, req.Priority, []byte(req.Payload), nullableString(req.JobID),
				scheduledAt, maxRetries, r.cfg.clock().Now(),
			)
			var scanErr error
			if task, scanErr = scanTask(row); scanErr != nil {
				return fmt.Errorf("insert task: %w", apperrors.MapDBError(scanErr))
			}
			if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, taskChannel(req.Type), task.ID); err != nil {
				return fmt.Errorf("send task notification: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetByID fetches one task.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

const reserveNextSQL = `
  WITH cte AS (
    SELECT id FROM tasks
    WHERE type = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY priority DESC, scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE tasks t
  SET status = 'running',
      started_at = COALESCE(t.started_at, $2),
      lease_expires_at = $3,
      updated_at = $2
  FROM cte
  WHERE t.id = cte.id
  RETURNING t.id::text, t.type, t.status, t.priority, t.payload, t.job_id::text, t.scheduled_at,
            t.started_at, t.completed_at, t.retry_count, t.max_retries, t.last_error,
            t.lease_expires_at, t.created_at, t.updated_at`

// ReserveNext leases the highest priority runnable task, first returning expired leases to
// the queue. It returns model.ErrNoTasksAvailable when nothing is runnable.
func (r *TaskRepo) ReserveNext(ctx context.Context, taskType model.TaskType, leaseSeconds int) (*model.Task, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("invalid task type: %s", taskType)
	}
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}
	if _, err := r.requeueExpired(ctx, taskType); err != nil {
		return nil, fmt.Errorf("requeue expired tasks: %w", err)
	}

	var task *model.Task
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.cfg.clock().Now()
			lease := now.Add(time.Duration(leaseSeconds) * time.Second)
			t, err := scanTask(tx.QueryRow(ctx, reserveNextSQL, taskType, now, lease))
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrNoTasksAvailable
			}
			if err != nil {
				return fmt.Errorf("reserve task: %w", err)
			}
			task = t
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// requeueExpired returns running tasks with lapsed leases to pending. Only one caller per
// task type does the sweep at a time.
func (r *TaskRepo) requeueExpired(ctx context.Context, taskType model.TaskType) (int64, error) {
	var n int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryAdvisoryXactLock(ctx, tx, advisoryLockRequeueMajor, advisoryMinor(string(taskType)))
			if err != nil || !locked {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE tasks
				SET status = 'pending', lease_expires_at = NULL, updated_at = $2
				WHERE type = $1 AND status = 'running'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $2
			`, taskType, r.cfg.clock().Now())
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			n, err = res.RowsAffected()
			return err
		},
	})
	return n, err
}

// Heartbeat extends the lease of a running task. False means the task is no longer ours.
func (r *TaskRepo) Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}
	now := r.cfg.clock().Now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET lease_expires_at = $2, updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, taskID, now.Add(time.Duration(leaseSeconds)*time.Second), now)
	return affected(res, err, "heartbeat task")
}

// Complete marks a running task completed.
func (r *TaskRepo) Complete(ctx context.Context, id string) (bool, error) {
	now := r.cfg.clock().Now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $2,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, id, now)
	return affected(res, err, "complete task")
}

// Fail records an error. The task goes back to pending after the retry delay, or to failed
// once max_retries is reached.
func (r *TaskRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	now := r.cfg.clock().Now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET last_error = $2,
		    retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		    completed_at = CASE WHEN retry_count + 1 >= max_retries THEN $3::timestamptz ELSE NULL END,
		    scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at ELSE $4::timestamptz END,
		    lease_expires_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, errMsg, now, now.Add(r.retryDelay()))
	return affected(res, err, "fail task")
}

// Stats counts tasks of taskType by status.
func (r *TaskRepo) Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error) {
	var s model.TaskStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
		  count(*) FILTER (WHERE status = 'pending'),
		  count(*) FILTER (WHERE status = 'running'),
		  count(*) FILTER (WHERE status = 'completed'),
		  count(*) FILTER (WHERE status = 'failed')
		FROM tasks
		WHERE type = $1
	`, taskType).Scan(&s.Pending, &s.Running, &s.Completed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks until a task of taskType is inserted or ctx ends.
func (r *TaskRepo) WaitForNotification(ctx context.Context, taskType model.TaskType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() { _ = conn.Close() }()

	channel := taskChannel(taskType)
	quoted := pgx.Identifier{channel}.Sanitize()
	if _, err := conn.ExecContext(ctx, "LISTEN "+quoted); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T; expected *stdlib.Conn", dc)
		}
		_, err := sc.Conn().WaitForNotification(ctx)
		return err
	})
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n > 0, nil
}

type taskRow struct {
	payload                                []byte
	jobID, lastError                       sql.NullString
	startedAt, completedAt, leaseExpiresAt sql.NullTime
}

func scanTask(s rowScanner) (*model.Task, error) {
	t := &model.Task{}
	var d taskRow
	if err := s.Scan(
		&t.ID,
		&t.Type,
		&t.Status,
		&t.Priority,
		&d.payload,
		&d.jobID,
		&t.ScheduledAt,
		&d.startedAt,
		&d.completedAt,
		&t.RetryCount,
		&t.MaxRetries,
		&d.lastError,
		&d.leaseExpiresAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Payload = cloneJSON(d.payload, `{}`)
	t.JobID = cloneNullableString(d.jobID)
	t.LastError = cloneNullableString(d.lastError)
	t.StartedAt = cloneNullableTime(d.startedAt)
	t.CompletedAt = cloneNullableTime(d.completedAt)
	t.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	return t, nil
}
