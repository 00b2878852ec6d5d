package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ReduceResult is the outcome of a conditional decrement script.
type ReduceResult int64

const (
	// ReduceSuccess means the counter was decremented.
	ReduceSuccess ReduceResult = 1
	// ReduceEmpty means the counter exists but is already zero.
	ReduceEmpty ReduceResult = 0
	// ReduceInsufficient means the counter holds less than the requested amount.
	ReduceInsufficient ReduceResult = -1
	// ReduceMissing means the counter (or hash field) does not exist.
	ReduceMissing ReduceResult = -2
)

// ErrUnavailable wraps any transport-level cache failure. Callers must
// treat it as an infrastructure error: no speculative local state is
// kept on either side of it.
var ErrUnavailable = errors.New("cache unavailable")

// Client is the atomic counter store shared by all process instances.
// Counters and hashes it holds may only be mutated through the script
// operations below; a plain read-modify-write would reintroduce the
// races the scripts exist to close.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewClient connects to redis and verifies the connection with a ping.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 5
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, cfg.Addr, err)
	}

	return &Client{rdb: rdb, logger: logger}, nil
}

// NewClientFromRedis wraps an existing redis client. Used by tests that
// run against an in-process server.
func NewClientFromRedis(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// Eval runs a Lua script in a single round-trip.
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	res, err := c.rdb.Eval(ctx, script, keys, args...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: eval: %v", ErrUnavailable, err)
	}
	return res, nil
}

// EvalInt runs a Lua script that returns an integer status code.
func (c *Client) EvalInt(ctx context.Context, script string, keys []string, args ...any) (int64, error) {
	res, err := c.rdb.Eval(ctx, script, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: eval: %v", ErrUnavailable, err)
	}
	return res, nil
}

// ReduceStock atomically checks and decrements a plain counter.
func (c *Client) ReduceStock(ctx context.Context, key string, quantity int) (ReduceResult, error) {
	res, err := c.EvalInt(ctx, reduceStockScript, []string{key}, quantity)
	if err != nil {
		return ReduceMissing, err
	}
	return ReduceResult(res), nil
}

// RollbackStock unconditionally adds back a previously removed amount.
// Used to compensate a failed downstream step.
func (c *Client) RollbackStock(ctx context.Context, key string, quantity int) error {
	if err := c.rdb.IncrBy(ctx, key, int64(quantity)).Err(); err != nil {
		return fmt.Errorf("%w: incrby %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// ReduceHashStock atomically checks and decrements one field of a hash.
func (c *Client) ReduceHashStock(ctx context.Context, key, field string, quantity int) (ReduceResult, error) {
	res, err := c.EvalInt(ctx, reduceHashStockScript, []string{key}, field, quantity)
	if err != nil {
		return ReduceMissing, err
	}
	return ReduceResult(res), nil
}

// RollbackHashStock adds a previously removed amount back to a hash field.
func (c *Client) RollbackHashStock(ctx context.Context, key, field string, quantity int) error {
	if err := c.rdb.HIncrBy(ctx, key, field, int64(quantity)).Err(); err != nil {
		return fmt.Errorf("%w: hincrby %s %s: %v", ErrUnavailable, key, field, err)
	}
	return nil
}

// FillHash atomically replaces the contents of a hash with the given
// field/value pairs.
func (c *Client) FillHash(ctx context.Context, key string, fields map[string]int) error {
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	if len(args) == 0 {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("%w: del %s: %v", ErrUnavailable, key, err)
		}
		return nil
	}
	_, err := c.EvalInt(ctx, fillHashScript, []string{key}, args...)
	return err
}

// HGetAll returns the full contents of a hash.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %v", ErrUnavailable, key, err)
	}
	return res, nil
}

// Get returns a plain key value, or "" if the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	res, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return res, nil
}

// Set writes a plain key value with an optional TTL (zero means no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Incr increments a counter and returns the new value. The monotonic
// result serves as a fencing token for lock holders.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	res, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", ErrUnavailable, key, err)
	}
	return res, nil
}
