// Package migrate applies the embedded SQL schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/target/smart-resizer/internal/data/pgxutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Serialises concurrent migrators across replicas.
const advisoryLockMigrate int64 = 900

// Run applies every embedded migration that has not been recorded yet. It is idempotent.
func Run(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, migrationsFS)
}

// Pending lists migration versions that Run would apply.
func Pending(ctx context.Context, db *sql.DB) ([]string, error) {
	if err := ensureTable(ctx, db); err != nil {
		return nil, err
	}
	versions, err := versionsIn(migrationsFS)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range versions {
		applied, err := isApplied(ctx, db, v)
		if err != nil {
			return nil, err
		}
		if !applied {
			out = append(out, v)
		}
	}
	return out, nil
}

func run(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	if err := ensureTable(ctx, db); err != nil {
		return err
	}
	versions, err := versionsIn(fsys)
	if err != nil {
		return err
	}
	logger := slog.Default().With("component", "migrations")
	for _, v := range versions {
		if err := apply(ctx, db, fsys, v, logger); err != nil {
			return err
		}
	}
	return nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func versionsIn(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var versions []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			versions = append(versions, strings.TrimSuffix(e.Name(), ".sql"))
		}
	}
	sort.Strings(versions)
	return versions, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isApplied(ctx context.Context, q queryer, version string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}

func apply(ctx context.Context, db *sql.DB, fsys fs.FS, version string, logger *slog.Logger) error {
	body, err := fs.ReadFile(fsys, "migrations/"+version+".sql")
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	return pgxutil.WithSQLTx(ctx, db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockMigrate); err != nil {
				return fmt.Errorf("lock migrations: %w", err)
			}
			// Another replica may have applied it while we waited on the lock.
			applied, err := isApplied(ctx, tx, version)
			if err != nil || applied {
				return err
			}

			logger.InfoContext(ctx, "applying migration", "version", version)
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("exec migration %s: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
				return fmt.Errorf("record migration %s: %w", version, err)
			}
			return nil
		},
	})
}

// ErrNoMigrations is returned by Latest when nothing is embedded.
var ErrNoMigrations = errors.New("no migrations embedded")

// Latest returns the newest embedded migration version.
func Latest() (string, error) {
	versions, err := versionsIn(migrationsFS)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", ErrNoMigrations
	}
	return versions[len(versions)-1], nil
}
