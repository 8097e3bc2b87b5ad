package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/smart-resizer/internal/core"
)

// RedisRateLimiter is a fixed-window counter: one INCR per request, with the key expiring
// at the end of its window.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	clock  TimeProvider
}

var _ core.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiterOptions configures NewRedisRateLimiter.
type RedisRateLimiterOptions struct {
	Client redis.UniversalClient
	// Prefix namespaces the counter keys. Defaults to "ratelimit".
	Prefix       string
	TimeProvider TimeProvider
}

// NewRedisRateLimiter creates a RedisRateLimiter.
func NewRedisRateLimiter(opts RedisRateLimiterOptions) (*RedisRateLimiter, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "ratelimit"
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = RealTimeProvider{}
	}
	return &RedisRateLimiter{client: opts.Client, prefix: prefix, clock: clock}, nil
}

// Allow counts one request against key and reports whether it fits in limit for the current
// window. A non-positive limit disables the check.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if key == "" {
		return false, errors.New("rate limit key cannot be empty")
	}
	if window <= 0 {
		return false, errors.New("rate limit window must be positive")
	}

	counter := l.counterKey(key, window)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, counter)
	pipe.Expire(ctx, counter, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

func (l *RedisRateLimiter) counterKey(key string, window time.Duration) string {
	bucket := l.clock.Now().UnixNano() / int64(window)
	return l.prefix + ":" + key + ":" + strconv.FormatInt(bucket, 10)
}
