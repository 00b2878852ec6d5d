package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"safestock/core/cache"
)

// ErrUnavailable is returned by WithLock when the lock is held elsewhere.
// It is transient: the caller decides whether to retry or abort, but must
// never proceed without the lock when one is required for correctness.
var ErrUnavailable = errors.New("lock unavailable")

const acquireScript = `
if redis.call('setnx', KEYS[1], ARGV[1]) == 1 then
    redis.call('expire', KEYS[1], ARGV[2])
    return 1
else
    return 0
end`

// Release returns 1 when the key is already absent or was deleted by its
// owner, 2 when the key is held by a different token.
const releaseScript = `
if redis.call('get', KEYS[1]) == false then
    return 1
elseif redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 2
end`

const extendScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('expire', KEYS[1], ARGV[2])
else
    return 0
end`

// Lock is a TTL-based mutual exclusion primitive on the shared cache.
//
// The TTL bounds how long a crashed holder can block others, which also
// means a critical section outliving its TTL loses exclusivity. Callers
// whose protected writes can be delayed past the TTL must record the
// fencing token from Fence with the write so stale holders lose.
type Lock struct {
	cache  *cache.Client
	logger *zap.Logger
}

// New creates a distributed lock over the given cache client.
func New(c *cache.Client, logger *zap.Logger) *Lock {
	return &Lock{cache: c, logger: logger}
}

// NewToken returns a fresh owner token.
func NewToken() string {
	return uuid.NewString()
}

// ttlSeconds converts a TTL to whole seconds, rounding sub-second
// values up to one. Truncating to zero would hand EXPIRE 0 to the
// cache, which deletes the key and leaves no mutual exclusion at all.
func ttlSeconds(ttl time.Duration) int {
	s := int(ttl.Seconds())
	if s < 1 {
		s = 1
	}
	return s
}

// Acquire sets the key only if absent and arms the TTL atomically.
// Returns false if the lock is already held.
func (l *Lock) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := l.cache.EvalInt(ctx, acquireScript, []string{key}, token, ttlSeconds(ttl))
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release deletes the key only if it still holds the given token.
// Returns true when the key was absent or deleted, false when the lock
// is held by a different token.
func (l *Lock) Release(ctx context.Context, key, token string) (bool, error) {
	res, err := l.cache.EvalInt(ctx, releaseScript, []string{key}, token)
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Extend renews the TTL if the caller still owns the lock.
func (l *Lock) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := l.cache.EvalInt(ctx, extendScript, []string{key}, token, ttlSeconds(ttl))
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Fence returns a monotonically increasing token scoped to the key.
// Writes protected by the lock should record it so a holder that lost
// its lock to TTL expiry cannot overwrite a newer holder's work.
func (l *Lock) Fence(ctx context.Context, key string) (int64, error) {
	return l.cache.Incr(ctx, "fence:"+key)
}

// WithLock acquires the key with a generated token, runs fn, and always
// releases. Returns ErrUnavailable without running fn when the lock is
// held elsewhere.
func (l *Lock) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token := NewToken()
	acquired, err := l.Acquire(ctx, key, token, ttl)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrUnavailable
	}
	defer func() {
		released, rerr := l.Release(ctx, key, token)
		if rerr != nil {
			l.logger.Error("lock release failed, waiting for TTL expiry",
				zap.String("key", key), zap.Error(rerr))
		} else if !released {
			l.logger.Warn("lock was taken over before release",
				zap.String("key", key))
		}
	}()

	return fn(ctx)
}
