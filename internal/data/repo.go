// Package data implements the Postgres and Redis adapters behind the core ports.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"time"
)

// RepoConfig holds the options shared by the Postgres repositories.
type RepoConfig struct {
	// RetryDelaySeconds is how long a failed task waits before it is eligible again.
	RetryDelaySeconds int
	Logger            *slog.Logger
	TimeProvider      TimeProvider
}

func (c RepoConfig) clock() TimeProvider {
	if c.TimeProvider == nil {
		return RealTimeProvider{}
	}
	return c.TimeProvider
}

func (c RepoConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Advisory lock namespaces. Two-key pg_try_advisory_xact_lock(major, minor).
const (
	advisoryLockReaperMajor  int64 = 1000
	advisoryLockRequeueMajor int64 = 1001

	advisoryLockReaperFailPendingJobs    int64 = 1
	advisoryLockReaperFailProcessingJobs int64 = 2
	advisoryLockReaperFailPendingTasks   int64 = 3
	advisoryLockReaperDeleteTasks        int64 = 4
)

// advisoryMinor folds s into the positive int32 range Postgres expects for a key half.
func advisoryMinor(s string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum32() & math.MaxInt32)
}

func tryAdvisoryXactLock(ctx context.Context, tx *sql.Tx, major, minor int64) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(ctx,
		"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", major, minor,
	).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func cloneJSON(raw []byte, fallback string) json.RawMessage {
	if len(raw) == 0 {
		if fallback == "" {
			return nil
		}
		return json.RawMessage(fallback)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
