package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/smart-resizer/config"
	"github.com/target/smart-resizer/internal/data"
)

const (
	connectTimeout      = 5 * time.Second
	defaultMaxOpenConns = 20
	minIdleConns        = 2
	connMaxLifetime     = 5 * time.Minute
)

// InfraConfig names the stores the resizer connects to at startup.
type InfraConfig struct {
	Postgres config.DBConfig
	Redis    config.RedisConfig
	Logger   *slog.Logger
}

// poolLimits sizes the database/sql pool. Idle connections are a quarter of the open limit,
// never fewer than minIdleConns.
type poolLimits struct {
	open int
	idle int
}

func poolLimitsFor(cfg config.DBConfig) poolLimits {
	open := cfg.MaxOpenConns
	if open <= 0 {
		open = defaultMaxOpenConns
	}
	return poolLimits{open: open, idle: max(open/4, minIdleConns)}
}

// ConnectDB opens the pgx-backed pool for the job, result, and task tables and pings it.
func ConnectDB(ctx context.Context, cfg InfraConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	limits := poolLimitsFor(cfg.Postgres)
	db.SetMaxOpenConns(limits.open)
	db.SetMaxIdleConns(limits.idle)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := verifyConnection(ctx, "database", db.PingContext, db.Close); err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "database connected",
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
			"database", cfg.Postgres.Name,
			"max_open_conns", limits.open,
			"max_idle_conns", limits.idle,
		)
	}
	return db, nil
}

// ConnectRedis connects the client behind the admission rate limiter. It returns a nil client
// without dialing when Redis is disabled.
//
//nolint:ireturn // single, sentinel, and cluster clients share redis.UniversalClient.
func ConnectRedis(ctx context.Context, cfg InfraConfig) (redis.UniversalClient, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}

	target, err := resolveRedisTarget(cfg.Redis)
	if err != nil {
		return nil, err
	}
	client := target.client()
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := verifyConnection(ctx, "redis", ping, client.Close); err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "redis connected", "mode", target.mode, "addr", target.describe())
	}
	return client, nil
}

// verifyConnection pings within connectTimeout and closes the handle when the ping fails.
func verifyConnection(ctx context.Context, name string, ping func(context.Context) error, closeFn func() error) error {
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	err := ping(pingCtx)
	if err == nil {
		return nil
	}
	if closeErr := closeFn(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close %s: %w", name, closeErr))
	}
	return fmt.Errorf("ping %s: %w", name, err)
}

type redisMode string

const (
	redisModeDirect   redisMode = "direct"
	redisModeSentinel redisMode = "sentinel"
	redisModeCluster  redisMode = "cluster"
)

// redisTarget is RedisConfig resolved into one topology. It never carries credentials into
// describe, so it is safe to log.
type redisTarget struct {
	mode             redisMode
	addrs            []string
	master           string
	username         string
	password         string
	sentinelPassword string
	db               int
	tls              *tls.Config
}

func resolveRedisTarget(cfg config.RedisConfig) (redisTarget, error) {
	t := redisTarget{password: cfg.Password, db: cfg.DB}
	uri := strings.TrimSpace(cfg.URI)

	switch {
	case cfg.UseCluster:
		t.mode = redisModeCluster
		t.db = 0 // cluster mode has a single keyspace
		t.addrs = cfg.ClusterNodes
		if len(t.addrs) == 0 && uri != "" {
			if err := t.applyURI(uri); err != nil {
				return redisTarget{}, fmt.Errorf("parse redis cluster url: %w", err)
			}
		}
		if len(t.addrs) == 0 {
			return redisTarget{}, errors.New("redis cluster configuration requires at least one address")
		}
	case cfg.UseSentinel:
		t.mode = redisModeSentinel
		if len(cfg.SentinelNodes) == 0 {
			return redisTarget{}, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		t.addrs = cfg.SentinelNodes
		t.master = cfg.SentinelMasterName
		t.sentinelPassword = cfg.SentinelPassword
	default:
		t.mode = redisModeDirect
		if uri == "" {
			return redisTarget{}, errors.New("redis direct configuration requires a URI")
		}
		if err := t.applyURI(uri); err != nil {
			return redisTarget{}, fmt.Errorf("parse redis url: %w", err)
		}
	}
	return t, nil
}

// applyURI accepts either host:port or a redis:// / rediss:// URL. URL credentials and db
// override the separately configured ones.
func (t *redisTarget) applyURI(uri string) error {
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		t.addrs = []string{uri}
		return nil
	}
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return err
	}
	t.addrs = []string{opt.Addr}
	t.username = opt.Username
	if opt.Password != "" {
		t.password = opt.Password
	}
	if t.mode == redisModeDirect {
		t.db = opt.DB
	}
	t.tls = opt.TLSConfig
	return nil
}

//nolint:ireturn // the concrete client depends on the resolved mode.
func (t redisTarget) client() redis.UniversalClient {
	switch t.mode {
	case redisModeCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     t.addrs,
			Username:  t.username,
			Password:  t.password,
			TLSConfig: t.tls,
		})
	case redisModeSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       t.master,
			SentinelAddrs:    t.addrs,
			Password:         t.password,
			SentinelPassword: t.sentinelPassword,
			DB:               t.db,
		})
	default:
		return redis.NewClient(&redis.Options{
			Addr:      t.addrs[0],
			Username:  t.username,
			Password:  t.password,
			DB:        t.db,
			TLSConfig: t.tls,
		})
	}
}

func (t redisTarget) describe() string {
	if t.mode == redisModeSentinel {
		return t.master + "@" + strings.Join(t.addrs, ",")
	}
	return strings.Join(t.addrs, ",")
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := data.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
