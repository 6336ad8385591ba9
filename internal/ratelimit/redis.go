package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"cae-dispatcher/internal/common/logging"
)

// RedisWindow is a sliding-window limiter backed by Redis sorted sets, so
// multiple dispatcher replicas share one quota against the authorization
// service.
//
// Each scope maps to one ZSET keyed by request time in nanoseconds. Entries
// older than the window are trimmed before every operation.
//
// Redis failures fail open: the dispatcher must not stop admitting work
// because its bookkeeping store is down. Every failure is logged.
type RedisWindow struct {
	rdb    *redis.Client
	config Config
	logger logging.Logger
}

// NewRedisWindow creates a Redis-backed sliding-window limiter.
func NewRedisWindow(rdb *redis.Client, config Config, logger logging.Logger) (*RedisWindow, error) {
	config.Backend = BackendRedis
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &RedisWindow{
		rdb:    rdb,
		config: config,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "ratelimit.redis"}),
	}, nil
}

func (r *RedisWindow) key(scope string) string {
	return r.config.KeyPrefix + scope
}

// CanProceed reports whether the scope has capacity without consuming it.
func (r *RedisWindow) CanProceed(ctx context.Context, scope string) bool {
	count, err := r.trimAndCount(ctx, scope)
	if err != nil {
		r.logger.Warn("Redis rate limit check failed, allowing request",
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return true
	}
	return count < int64(r.config.capacity())
}

// Record consumes one slot for the scope unconditionally.
func (r *RedisWindow) Record(ctx context.Context, scope string) {
	now := time.Now()
	key := r.key(scope)

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-r.config.Window).UnixNano(), 10))
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, r.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("Redis rate limit record failed",
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}

// TryAcquire trims, adds the new entry and checks capacity in one
// transaction; an over-capacity add is compensated with a removal.
func (r *RedisWindow) TryAcquire(ctx context.Context, scope string) Acquisition {
	now := time.Now()
	key := r.key(scope)
	member := now.UnixNano()

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-r.config.Window).UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(member), Member: member})
	pipe.Expire(ctx, key, r.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("Redis rate limit acquire failed, allowing request",
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return Acquisition{Acquired: true}
	}

	// countCmd saw the window before our own entry was added
	if countCmd.Val() < int64(r.config.capacity()) {
		return Acquisition{Acquired: true}
	}

	if err := r.rdb.ZRem(ctx, key, member).Err(); err != nil {
		r.logger.Warn("Redis rate limit rollback failed",
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	return Acquisition{Acquired: false, Wait: r.waitTime(ctx, scope, now)}
}

// State returns a snapshot of the scope's window.
func (r *RedisWindow) State(ctx context.Context, scope string) ScopeState {
	now := time.Now()
	count, err := r.trimAndCount(ctx, scope)
	if err != nil {
		r.logger.Warn("Redis rate limit state read failed",
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return ScopeState{Scope: scope, Remaining: r.config.capacity(), ResetAt: now}
	}

	remaining := r.config.capacity() - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now
	if oldest, ok := r.oldest(ctx, scope); ok {
		resetAt = oldest.Add(r.config.Window)
	}

	return ScopeState{
		Scope:        scope,
		CurrentCount: int(count),
		Remaining:    remaining,
		ResetAt:      resetAt,
		Limited:      remaining == 0,
	}
}

// Reset discards all tracked requests for the scope.
func (r *RedisWindow) Reset(ctx context.Context, scope string) {
	if err := r.rdb.Del(ctx, r.key(scope)).Err(); err != nil {
		r.logger.Warn("Redis rate limit reset failed",
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}

// Health checks the Redis connection.
func (r *RedisWindow) Health(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis rate limiter unhealthy: %w", err)
	}
	return nil
}

func (r *RedisWindow) trimAndCount(ctx context.Context, scope string) (int64, error) {
	now := time.Now()
	key := r.key(scope)

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-r.config.Window).UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return countCmd.Val(), nil
}

func (r *RedisWindow) oldest(ctx context.Context, scope string) (time.Time, bool) {
	entries, err := r.rdb.ZRangeWithScores(ctx, r.key(scope), 0, 0).Result()
	if err != nil || len(entries) == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(entries[0].Score)), true
}

func (r *RedisWindow) waitTime(ctx context.Context, scope string, now time.Time) time.Duration {
	oldest, ok := r.oldest(ctx, scope)
	if !ok {
		return denialBuffer
	}

	wait := oldest.Add(r.config.Window).Sub(now) + denialBuffer
	if wait < denialBuffer {
		wait = denialBuffer
	}
	return wait
}

var _ Limiter = (*RedisWindow)(nil)
