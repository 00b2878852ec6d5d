package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewClientFromRedis(rdb, zap.NewNop()), mr
}

func TestReduceStock(t *testing.T) {
	c, mr := setupClient(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("product_stock:1", "10"))

	res, err := c.ReduceStock(ctx, "product_stock:1", 4)
	assert.NoError(t, err)
	assert.Equal(t, ReduceSuccess, res)
	assert.Equal(t, "6", mustGet(t, mr, "product_stock:1"))

	// More than remains
	res, err = c.ReduceStock(ctx, "product_stock:1", 7)
	assert.NoError(t, err)
	assert.Equal(t, ReduceInsufficient, res)
	assert.Equal(t, "6", mustGet(t, mr, "product_stock:1"))

	// Drain to zero, then hit the empty branch
	res, err = c.ReduceStock(ctx, "product_stock:1", 6)
	assert.NoError(t, err)
	assert.Equal(t, ReduceSuccess, res)

	res, err = c.ReduceStock(ctx, "product_stock:1", 1)
	assert.NoError(t, err)
	assert.Equal(t, ReduceEmpty, res)
}

func TestReduceStockMissingKey(t *testing.T) {
	c, _ := setupClient(t)

	res, err := c.ReduceStock(context.Background(), "product_stock:404", 1)
	assert.NoError(t, err)
	assert.Equal(t, ReduceMissing, res)
}

func TestRollbackStock(t *testing.T) {
	c, mr := setupClient(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("product_stock:1", "3"))

	assert.NoError(t, c.RollbackStock(ctx, "product_stock:1", 2))
	assert.Equal(t, "5", mustGet(t, mr, "product_stock:1"))
}

func TestReduceHashStock(t *testing.T) {
	c, mr := setupClient(t)
	ctx := context.Background()

	mr.HSet("inventory:segments:stock:1", "1", "4")
	mr.HSet("inventory:segments:stock:1", "2", "2")

	res, err := c.ReduceHashStock(ctx, "inventory:segments:stock:1", "1", 3)
	assert.NoError(t, err)
	assert.Equal(t, ReduceSuccess, res)
	assert.Equal(t, "1", mr.HGet("inventory:segments:stock:1", "1"))

	// Not enough in the field
	res, err = c.ReduceHashStock(ctx, "inventory:segments:stock:1", "2", 3)
	assert.NoError(t, err)
	assert.Equal(t, ReduceInsufficient, res)

	// Draining a field deletes it
	res, err = c.ReduceHashStock(ctx, "inventory:segments:stock:1", "2", 2)
	assert.NoError(t, err)
	assert.Equal(t, ReduceSuccess, res)
	assert.Equal(t, "", mr.HGet("inventory:segments:stock:1", "2"))

	// Absent field
	res, err = c.ReduceHashStock(ctx, "inventory:segments:stock:1", "99", 1)
	assert.NoError(t, err)
	assert.Equal(t, ReduceMissing, res)
}

func TestFillHashReplacesContents(t *testing.T) {
	c, mr := setupClient(t)
	ctx := context.Background()

	mr.HSet("h", "stale", "1")

	err := c.FillHash(ctx, "h", map[string]int{"1": 4, "2": 2})
	assert.NoError(t, err)
	assert.Equal(t, "4", mr.HGet("h", "1"))
	assert.Equal(t, "2", mr.HGet("h", "2"))
	assert.Equal(t, "", mr.HGet("h", "stale"))

	// Empty fill clears the key
	err = c.FillHash(ctx, "h", nil)
	assert.NoError(t, err)
	assert.False(t, mr.Exists("h"))
}

func TestGetAbsentKey(t *testing.T) {
	c, _ := setupClient(t)

	val, err := c.Get(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestIncrIsMonotonic(t *testing.T) {
	c, _ := setupClient(t)
	ctx := context.Background()

	first, err := c.Incr(ctx, "fence:merge:lock:1")
	require.NoError(t, err)
	second, err := c.Incr(ctx, "fence:merge:lock:1")
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return v
}
