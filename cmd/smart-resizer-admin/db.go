package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/target/smart-resizer/internal/adapters/reaper"
	"github.com/target/smart-resizer/internal/bootstrap"
	"github.com/target/smart-resizer/internal/data"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/migrate"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 30 * time.Second
)

type timeoutOptions struct {
	Timeout time.Duration
}

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	AllowRemote bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("migrate", args, defaultMigrationTimeout)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runDBReset(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBResetFlags(args)
	if err != nil {
		return err
	}

	target := fmt.Sprintf(
		"database %q on %s:%d",
		cmdCtx.Config.Postgres.Name,
		cmdCtx.Config.Postgres.Host,
		cmdCtx.Config.Postgres.Port,
	)

	if _, guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "drop and recreate the public schema"); guardErr != nil {
		return guardErr
	}
	if !opts.Yes {
		if confirmErr := confirm(os.Stdin, cmdCtx.Out, "About to reset database schema for "+target+"."); confirmErr != nil {
			return confirmErr
		}
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("dropping public schema", "database", cmdCtx.Config.Postgres.Name)
		if resetErr := cmdCtx.resetDatabase(ctx, db); resetErr != nil {
			return resetErr
		}

		cmdCtx.Logger.Info("re-running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		cmdCtx.Logger.Info("database reset completed successfully")
		return nil
	})
}

// statusReport is what the status command prints.
type statusReport struct {
	Latest  string
	Pending []string
	Queue   *model.TaskStats
}

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("status", args, defaultCommandTimeout)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		latest, latestErr := migrate.Latest()
		if latestErr != nil {
			return fmt.Errorf("read embedded migrations: %w", latestErr)
		}
		pending, pendingErr := migrate.Pending(ctx, db)
		if pendingErr != nil {
			return fmt.Errorf("list pending migrations: %w", pendingErr)
		}

		report := statusReport{Latest: latest, Pending: pending}
		// Queue tables only exist once migrations are applied.
		if len(pending) == 0 {
			repo := data.NewTaskRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
			stats, statsErr := repo.Stats(ctx, model.TaskTypeResize)
			if statsErr != nil {
				return fmt.Errorf("read queue stats: %w", statsErr)
			}
			report.Queue = stats
		}
		return renderStatus(cmdCtx.Out, report)
	})
}

func renderStatus(w io.Writer, r statusReport) error {
	if err := writef(w, "Schema: latest embedded migration %s\n", r.Latest); err != nil {
		return err
	}
	if len(r.Pending) == 0 {
		if err := writeln(w, "Schema: up to date"); err != nil {
			return err
		}
	} else {
		if err := writef(w, "Schema: %d pending (%s)\n", len(r.Pending), strings.Join(r.Pending, ", ")); err != nil {
			return err
		}
	}
	if r.Queue == nil {
		return writeln(w, "Queue: unavailable until migrations are applied")
	}
	return writef(w, "Queue (%s): pending=%d running=%d completed=%d failed=%d\n",
		model.TaskTypeResize, r.Queue.Pending, r.Queue.Running, r.Queue.Completed, r.Queue.Failed)
}

func runReap(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("reap", args, defaultMigrationTimeout)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		runner, runnerErr := reaper.NewRunner(reaper.RunnerOptions{
			DB:     db,
			Config: cmdCtx.Config.Reaper,
			Logger: cmdCtx.Logger,
		})
		if runnerErr != nil {
			return fmt.Errorf("create reaper runner: %w", runnerErr)
		}
		if reapErr := runner.RunOnce(ctx); reapErr != nil {
			return fmt.Errorf("reaper pass: %w", reapErr)
		}
		cmdCtx.Logger.Info("reaper pass completed")
		return nil
	})
}

func parseTimeoutFlags(name string, args []string, def time.Duration) (timeoutOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := timeoutOptions{Timeout: def}
	fs.DurationVar(&opts.Timeout, "timeout", def, "Maximum duration to wait for the command to complete")

	if err := fs.Parse(args); err != nil {
		return timeoutOptions{}, err
	}
	if opts.Timeout <= 0 {
		return timeoutOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseDBResetFlags(args []string) (dbResetOptions, error) {
	fs := flag.NewFlagSet("db-reset", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := dbResetOptions{Timeout: defaultMigrationTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for the reset to complete")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Allow running against a non-local database host")

	if err := fs.Parse(args); err != nil {
		return dbResetOptions{}, err
	}
	if opts.Timeout <= 0 {
		return dbResetOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, bootstrap.InfraConfig{
		Postgres: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) (bool, error) {
	host := cmdCtx.Config.Postgres.Host
	if !isLikelyRemoteHost(host) {
		return false, nil
	}
	if !allow {
		return true, fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			host,
		)
	}
	prompt := fmt.Sprintf("WARNING: database host %q does not look like a local address. This operation will %s.", host, action)
	return true, confirm(os.Stdin, os.Stderr, prompt)
}

func (cmdCtx *commandContext) resetDatabase(ctx context.Context, db *sql.DB) error {
	if cmdCtx == nil {
		return errors.New("command context is required")
	}

	statements := resetStatements(cmdCtx.Config.Postgres.User)
	for _, stmt := range statements {
		cmdCtx.Logger.DebugContext(ctx, "executing reset statement", "sql", stmt)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func resetStatements(user string) []string {
	statements := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
		"GRANT ALL ON SCHEMA public TO public",
	}
	if user = strings.TrimSpace(user); user != "" && !strings.EqualFold(user, "public") {
		statements = append(statements, "GRANT ALL ON SCHEMA public TO "+quoteIdentifier(user))
	}
	return statements
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

// confirm prints prompt and succeeds only on an explicit yes.
func confirm(in io.Reader, out io.Writer, prompt string) error {
	if err := writef(out, "%s\nContinue? [y/N]: ", prompt); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && resp == "" {
		return errors.New("aborted by user")
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}
