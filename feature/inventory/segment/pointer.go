package segment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"safestock/core/cache"
	"safestock/core/lock"
)

// PointerExhausted is the sentinel pointer value meaning every segment
// of the product has been drained.
const PointerExhausted = -1

const (
	segmentInfoKeyPrefix = "activeSegmentInfo:"
	segmentInfoTTL       = 24 * time.Hour

	initLockTTL  = 10 * time.Second
	initLockWait = 100 * time.Millisecond
)

// The pointer advance is gated by a monotonically increasing version so
// two concurrent advancers cannot both win. Wall-clock milliseconds are
// enough: the version only needs to be non-decreasing per updater, not
// globally unique.
const advancePointerScript = `
local currentVersion = tonumber(redis.call('hget', KEYS[1], 'version') or '0')
local newVersion = tonumber(ARGV[2])
if newVersion > currentVersion then
    redis.call('hset', KEYS[1], 'pointer', ARGV[1], 'version', newVersion)
    redis.call('expire', KEYS[1], ARGV[3])
    return 1
else
    return 0
end`

const initPointerScript = `
redis.call('hset', KEYS[1], 'pointer', ARGV[1], 'count', ARGV[2], 'version', ARGV[3])
redis.call('expire', KEYS[1], ARGV[4])
return 1`

// ActiveSegmentInfo is the cache-resident pointer to the segment
// currently favored for a product. It is never durable: a cache miss
// rebuilds it from the repository.
type ActiveSegmentInfo struct {
	CurrentPointer int
	TotalSegments  int
	Version        int64
}

// Exhausted reports whether all segments have been drained.
func (i *ActiveSegmentInfo) Exhausted() bool {
	return i.CurrentPointer == PointerExhausted
}

// PointerCache manages ActiveSegmentInfo entries.
type PointerCache struct {
	cache  *cache.Client
	locks  *lock.Lock
	db     *gorm.DB
	logger *zap.Logger
}

// NewPointerCache creates a pointer cache over the shared cache client.
func NewPointerCache(c *cache.Client, locks *lock.Lock, db *gorm.DB, logger *zap.Logger) *PointerCache {
	return &PointerCache{cache: c, locks: locks, db: db, logger: logger}
}

func segmentInfoKey(productID int) string {
	return segmentInfoKeyPrefix + strconv.Itoa(productID)
}

// Get returns the cached pointer info, or nil on a cache miss.
func (p *PointerCache) Get(ctx context.Context, productID int) (*ActiveSegmentInfo, error) {
	fields, err := p.cache.HGetAll(ctx, segmentInfoKey(productID))
	if err != nil {
		return nil, err
	}
	if fields["pointer"] == "" || fields["count"] == "" {
		return nil, nil
	}

	pointer, err := strconv.Atoi(fields["pointer"])
	if err != nil {
		return nil, fmt.Errorf("corrupt segment pointer for product %d: %w", productID, err)
	}
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return nil, fmt.Errorf("corrupt segment count for product %d: %w", productID, err)
	}
	version, _ := strconv.ParseInt(fields["version"], 10, 64)

	return &ActiveSegmentInfo{CurrentPointer: pointer, TotalSegments: count, Version: version}, nil
}

// GetOrInit returns the pointer info, rebuilding it from the repository
// on a miss. Initialization is double-checked under a short lock so a
// stampede of cold readers produces one rebuild. Returns nil when the
// product has no segments.
func (p *PointerCache) GetOrInit(ctx context.Context, productID int) (*ActiveSegmentInfo, error) {
	info, err := p.Get(ctx, productID)
	if err != nil || info != nil {
		return info, err
	}

	lockKey := "lock:" + segmentInfoKey(productID)
	token := lock.NewToken()
	acquired, err := p.locks.Acquire(ctx, lockKey, token, initLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// Someone else is rebuilding; give them a moment and read back.
		time.Sleep(initLockWait)
		return p.Get(ctx, productID)
	}
	defer p.locks.Release(ctx, lockKey, token)

	// Re-check under the lock.
	info, err = p.Get(ctx, productID)
	if err != nil || info != nil {
		return info, err
	}

	segs, err := NewRepository(p.db).GetValidSegments(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, nil
	}

	return p.Reset(ctx, productID, segs[0].SegmentID, len(segs))
}

// Reset unconditionally rewrites the pointer info, used after a rebuild
// or a merge (both already serialized by their own locks).
func (p *PointerCache) Reset(ctx context.Context, productID, pointer, count int) (*ActiveSegmentInfo, error) {
	version := time.Now().UnixMilli()
	_, err := p.cache.EvalInt(ctx, initPointerScript,
		[]string{segmentInfoKey(productID)},
		pointer, count, version, int(segmentInfoTTL.Seconds()))
	if err != nil {
		return nil, err
	}
	p.logger.Info("segment pointer initialized",
		zap.Int("product_id", productID),
		zap.Int("pointer", pointer),
		zap.Int("count", count))
	return &ActiveSegmentInfo{CurrentPointer: pointer, TotalSegments: count, Version: version}, nil
}

// Advance moves the pointer via a version-gated compare-and-set.
// Returns false when a concurrent advancer already published a newer
// version.
func (p *PointerCache) Advance(ctx context.Context, productID, newPointer int) (bool, error) {
	res, err := p.cache.EvalInt(ctx, advancePointerScript,
		[]string{segmentInfoKey(productID)},
		newPointer, time.Now().UnixMilli(), int(segmentInfoTTL.Seconds()))
	if err != nil {
		return false, err
	}
	if res != 1 {
		p.logger.Debug("segment pointer advance lost version race",
			zap.Int("product_id", productID),
			zap.Int("new_pointer", newPointer))
	}
	return res == 1, nil
}
