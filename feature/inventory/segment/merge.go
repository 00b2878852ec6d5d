package segment

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"safestock/core/lock"
	"safestock/feature/inventory/models"
)

// ErrMergeInProgress means another process holds the merge lock for the
// product. The caller may wait and retry its selection.
var ErrMergeInProgress = errors.New("segment merge in progress")

const mergeLockKeyPrefix = "merge:lock:"

// MergeCheckConfig holds the fragmentation thresholds the periodic task
// uses to decide whether a product's segmentation is worth rebuilding.
type MergeCheckConfig struct {
	// UsageThreshold marks a partially used segment as fragmented when
	// its fill ratio falls below it.
	UsageThreshold float64
	// FragmentRatio triggers a merge when the fragmented fraction of the
	// live segments exceeds it.
	FragmentRatio float64
	// MinFragmentCount gates FragmentRatio so two half-empty segments
	// out of three do not churn a tiny product forever.
	MinFragmentCount int
	// EmptyRatio triggers a merge on its own when the drained fraction
	// of the live segments exceeds it.
	EmptyRatio float64
}

// DefaultMergeCheckConfig returns the standard thresholds.
func DefaultMergeCheckConfig() MergeCheckConfig {
	return MergeCheckConfig{
		UsageThreshold:   0.5,
		FragmentRatio:    0.3,
		MinFragmentCount: 2,
		EmptyRatio:       0.5,
	}
}

func mergeLockKey(productID int) string {
	return mergeLockKeyPrefix + strconv.Itoa(productID)
}

// TriggerMerge redistributes a product's remaining stock so that a
// request of the given quantity fits in a single segment. The first new
// segment is sized max(quantity, SegmentStock), clamped to the
// remaining total; the remainder is cut into standard segments.
func (a *Allocator) TriggerMerge(ctx context.Context, productID, quantity int) error {
	firstSize := quantity
	if firstSize < a.cfg.SegmentStock {
		firstSize = a.cfg.SegmentStock
	}
	return a.mergeWithLock(ctx, productID, firstSize)
}

// StandardMerge rebuilds the segmentation into uniform segments, used by
// the periodic fragmentation task.
func (a *Allocator) StandardMerge(ctx context.Context, productID int) error {
	return a.mergeWithLock(ctx, productID, a.cfg.SegmentStock)
}

// mergeWithLock serializes redistribution per product behind the merge
// lock. Old segments are invalidated and replacements inserted in one
// transaction, so the sum of live available stock is conserved exactly.
func (a *Allocator) mergeWithLock(ctx context.Context, productID, firstSize int) error {
	key := mergeLockKey(productID)
	token := lock.NewToken()
	acquired, err := a.locks.Acquire(ctx, key, token, a.cfg.MergeLockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrMergeInProgress
	}
	defer func() {
		if released, rerr := a.locks.Release(ctx, key, token); rerr != nil {
			a.logger.Error("merge lock release failed, waiting for TTL expiry",
				zap.Int("product_id", productID), zap.Error(rerr))
		} else if !released {
			a.logger.Warn("merge lock was taken over before release",
				zap.Int("product_id", productID))
		}
	}()

	fence, err := a.locks.Fence(ctx, key)
	if err != nil {
		return err
	}

	var rebuilt []models.InventorySegment
	err = a.db.Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		segs, err := repo.GetValidSegments(ctx, productID)
		if err != nil {
			return err
		}
		total := 0
		for _, s := range segs {
			total += s.AvailableStock
		}
		if total == 0 {
			return models.ErrInsufficientStock
		}
		// A tail smaller than the requested first size still gets
		// compacted into one segment. The request path only merges for
		// quantities it has already checked against the total, so
		// clamping never hides a real insufficiency.
		if firstSize > total {
			firstSize = total
		}

		maxID, err := repo.MaxSegmentID(ctx, productID)
		if err != nil {
			return err
		}
		if err := repo.InvalidateSegments(ctx, productID); err != nil {
			return err
		}

		rebuilt = buildSegments(productID, maxID+1, total, firstSize, a.cfg.SegmentStock)
		return repo.BatchInsert(ctx, rebuilt)
	})
	if err != nil {
		return err
	}

	a.logger.Info("segments merged",
		zap.Int("product_id", productID),
		zap.Int("segments", len(rebuilt)),
		zap.Int64("fence", fence))

	stocks := make(map[string]int, len(rebuilt))
	for _, s := range rebuilt {
		stocks[strconv.Itoa(s.SegmentID)] = s.AvailableStock
	}
	if err := a.cache.FillHash(ctx, segmentStockKey(productID), stocks); err != nil {
		a.logger.Warn("segment stock cache refresh failed after merge",
			zap.Int("product_id", productID), zap.Error(err))
	}
	if _, err := a.pointers.Reset(ctx, productID, rebuilt[0].SegmentID, len(rebuilt)); err != nil {
		a.logger.Warn("segment pointer reset failed after merge",
			zap.Int("product_id", productID), zap.Error(err))
	}
	return nil
}

// appendSegment adds one fresh segment holding quantity, under the merge
// lock so it cannot interleave with a redistribution.
func (a *Allocator) appendSegment(ctx context.Context, productID, quantity int) error {
	key := mergeLockKey(productID)
	token := lock.NewToken()
	acquired, err := a.locks.Acquire(ctx, key, token, a.cfg.MergeLockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrMergeInProgress
	}
	defer a.locks.Release(ctx, key, token)

	return a.db.Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		maxID, err := repo.MaxSegmentID(ctx, productID)
		if err != nil {
			return err
		}
		return repo.BatchInsert(ctx, []models.InventorySegment{{
			ProductID:      productID,
			SegmentID:      maxID + 1,
			TotalStock:     quantity,
			AvailableStock: quantity,
			Status:         models.SegmentValid,
		}})
	})
}

// buildSegments cuts total into a first segment of firstSize and
// standard segments of segmentStock, with any remainder in a final
// smaller segment. The pieces always sum to total.
func buildSegments(productID, startID, total, firstSize, segmentStock int) []models.InventorySegment {
	var segs []models.InventorySegment
	id := startID

	add := func(size int) {
		segs = append(segs, models.InventorySegment{
			ProductID:      productID,
			SegmentID:      id,
			TotalStock:     size,
			AvailableStock: size,
			Status:         models.SegmentValid,
		})
		id++
	}

	add(firstSize)
	remaining := total - firstSize
	for remaining >= segmentStock {
		add(segmentStock)
		remaining -= segmentStock
	}
	if remaining > 0 {
		add(remaining)
	}
	return segs
}

// NeedsMerge reports whether a product's live segments are fragmented
// enough to justify a rebuild. Fragmented means partially used below the
// usage threshold; fully drained segments count separately.
func NeedsMerge(segments []models.InventorySegment, cfg MergeCheckConfig) bool {
	if len(segments) < 2 {
		return false
	}

	fragmented, empty := 0, 0
	for _, s := range segments {
		switch {
		case s.AvailableStock == 0:
			empty++
		case s.TotalStock > 0 && float64(s.AvailableStock)/float64(s.TotalStock) < cfg.UsageThreshold:
			fragmented++
		}
	}

	n := float64(len(segments))
	if fragmented >= cfg.MinFragmentCount && float64(fragmented)/n > cfg.FragmentRatio {
		return true
	}
	return float64(empty)/n > cfg.EmptyRatio
}
