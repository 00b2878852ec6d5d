package segment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"safestock/core/cache"
	"safestock/core/lock"
	"safestock/feature/inventory/models"
)

const segmentStockKeyPrefix = "inventory:segments:stock:"

// Config controls segment sizing, selection and merging.
type Config struct {
	// SegmentStock is the capacity of a standard segment.
	SegmentStock int
	// Selection names the SelectionStrategy (best_match, sequential).
	Selection string
	// MergeWait is how long to wait for a merge held by another process
	// before the single synchronous retry. Best effort, not correctness.
	MergeWait time.Duration
	// MergeLockTTL bounds how long a crashed merger blocks others.
	MergeLockTTL time.Duration
	// Check holds the fragmentation thresholds for the periodic task.
	Check MergeCheckConfig
}

// DefaultConfig returns the standard sizing and thresholds.
func DefaultConfig() Config {
	return Config{
		SegmentStock: 4,
		Selection:    SelectionBestMatch,
		MergeWait:    100 * time.Millisecond,
		MergeLockTTL: 10 * time.Second,
		Check:        DefaultMergeCheckConfig(),
	}
}

// Allocator shards one product's stock across segments so independent
// requests mutate disjoint rows. Selection never locks a segment for the
// caller; the decrement itself is a versioned CAS, and a lost CAS causes
// reselection among the remaining candidates rather than a blind retry.
type Allocator struct {
	db       *gorm.DB
	repo     *Repository
	cache    *cache.Client
	locks    *lock.Lock
	pointers *PointerCache
	selector SelectionStrategy
	cfg      Config
	logger   *zap.Logger
}

// NewAllocator wires an allocator. The selection strategy named in cfg
// must be valid.
func NewAllocator(db *gorm.DB, c *cache.Client, locks *lock.Lock, cfg Config, logger *zap.Logger) (*Allocator, error) {
	selector, err := NewSelection(cfg.Selection)
	if err != nil {
		return nil, err
	}
	return &Allocator{
		db:       db,
		repo:     NewRepository(db),
		cache:    c,
		locks:    locks,
		pointers: NewPointerCache(c, lock.New(c, logger), db, logger),
		selector: selector,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

func segmentStockKey(productID int) string {
	return segmentStockKeyPrefix + strconv.Itoa(productID)
}

// Name identifies the allocator when used as a mutation strategy.
func (a *Allocator) Name() string {
	return "segment"
}

// Reduce deducts quantity from the product's segments: load the live
// segments, select one, CAS-decrement it, and reselect on a lost race.
// When no single segment can satisfy the request, a merge is triggered
// and the selection retried once against the fresh segmentation.
func (a *Allocator) Reduce(ctx context.Context, productID, quantity int) error {
	segments, total, err := a.loadSegments(ctx, productID)
	if err != nil {
		return err
	}
	if total < quantity {
		return models.ErrInsufficientStock
	}

	if err := a.reduceFromCandidates(ctx, productID, segments, quantity); err == nil {
		return nil
	} else if !errors.Is(err, models.ErrInsufficientStock) {
		return err
	}

	// No qualifying segment although the total suffices: redistribute.
	if err := a.TriggerMerge(ctx, productID, quantity); err != nil {
		if errors.Is(err, ErrMergeInProgress) {
			// Another process is redistributing; give its merge a chance
			// to land before the one synchronous retry.
			time.Sleep(a.cfg.MergeWait)
		} else {
			return err
		}
	}

	segments, _, err = a.loadSegments(ctx, productID)
	if err != nil {
		return err
	}
	return a.reduceFromCandidates(ctx, productID, segments, quantity)
}

// reduceFromCandidates walks the selection until a CAS wins or no
// candidate remains. A segment that loses its CAS is dropped from the
// candidate set: its snapshot is stale.
func (a *Allocator) reduceFromCandidates(ctx context.Context, productID int, candidates []models.InventorySegment, quantity int) error {
	for len(candidates) > 0 {
		sel := a.selector.Select(candidates, quantity)
		if sel == nil {
			return models.ErrInsufficientStock
		}

		err := a.reduceInSegment(ctx, productID, sel, quantity, candidates)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrVersionConflict) && !errors.Is(err, models.ErrInsufficientStock) {
			return err
		}

		candidates = withoutSegment(candidates, sel.SegmentID)
	}
	return models.ErrInsufficientStock
}

// reduceInSegment decrements the cache-side availability first, then
// applies the versioned DB update. A lost DB race compensates the cache
// decrement so the secondary cache never undercounts.
func (a *Allocator) reduceInSegment(ctx context.Context, productID int, seg *models.InventorySegment, quantity int, candidates []models.InventorySegment) error {
	key := segmentStockKey(productID)
	field := strconv.Itoa(seg.SegmentID)

	res, err := a.cache.ReduceHashStock(ctx, key, field, quantity)
	if err != nil {
		return err
	}
	if res != cache.ReduceSuccess {
		a.logger.Debug("cache segment decrement refused",
			zap.Int("product_id", productID),
			zap.Int("segment_id", seg.SegmentID),
			zap.Int64("result", int64(res)))
		return models.ErrInsufficientStock
	}

	err = a.db.Transaction(func(tx *gorm.DB) error {
		rows, err := NewRepository(tx).ReduceStockWithVersion(ctx, productID, seg.SegmentID, quantity, seg.Version)
		if err != nil {
			return err
		}
		if rows == 0 {
			return models.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		if rbErr := a.cache.RollbackHashStock(ctx, key, field, quantity); rbErr != nil {
			a.logger.Error("cache segment rollback failed",
				zap.Int("product_id", productID),
				zap.Int("segment_id", seg.SegmentID),
				zap.Error(rbErr))
		}
		return err
	}

	if seg.AvailableStock == quantity {
		a.advanceAfterExhaust(ctx, productID, seg.SegmentID, candidates)
	}
	return nil
}

// advanceAfterExhaust moves the cached pointer past a drained segment,
// or to the exhausted sentinel when it was the last with stock. Losing
// the version race here is fine: someone advanced it for us.
func (a *Allocator) advanceAfterExhaust(ctx context.Context, productID, drainedID int, candidates []models.InventorySegment) {
	next := PointerExhausted
	for i := range candidates {
		if candidates[i].SegmentID > drainedID && candidates[i].AvailableStock > 0 {
			next = candidates[i].SegmentID
			break
		}
	}
	if _, err := a.pointers.Advance(ctx, productID, next); err != nil {
		a.logger.Warn("segment pointer advance failed",
			zap.Int("product_id", productID), zap.Error(err))
	}
}

// ReduceSequential is the fixed-capacity path: follow the cached active
// pointer, deduct under a row lock, and walk forward when the favored
// segment cannot serve. Requests larger than one segment's capacity are
// refused outright.
func (a *Allocator) ReduceSequential(ctx context.Context, productID, quantity int) error {
	if quantity > a.cfg.SegmentStock {
		return models.ErrInsufficientStock
	}

	info, err := a.pointers.GetOrInit(ctx, productID)
	if err != nil {
		return err
	}
	if info == nil || info.Exhausted() {
		return models.ErrInsufficientStock
	}

	segments, err := a.repo.GetValidSegments(ctx, productID)
	if err != nil {
		return err
	}

	for i := range segments {
		seg := segments[i]
		if seg.SegmentID < info.CurrentPointer || seg.AvailableStock < quantity {
			continue
		}
		err := a.db.Transaction(func(tx *gorm.DB) error {
			repo := NewRepository(tx)
			locked, err := repo.GetSegmentForUpdate(ctx, productID, seg.SegmentID)
			if err != nil {
				return err
			}
			if locked == nil || locked.AvailableStock < quantity {
				return models.ErrInsufficientStock
			}
			rows, err := repo.ReduceStockWithVersion(ctx, productID, seg.SegmentID, quantity, locked.Version)
			if err != nil {
				return err
			}
			if rows == 0 {
				return models.ErrVersionConflict
			}
			if locked.AvailableStock == quantity {
				a.advanceAfterExhaust(ctx, productID, seg.SegmentID, segments)
			} else if seg.SegmentID != info.CurrentPointer {
				a.pointers.Advance(ctx, productID, seg.SegmentID)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrVersionConflict) && !errors.Is(err, models.ErrInsufficientStock) {
			return err
		}
	}

	a.pointers.Advance(ctx, productID, PointerExhausted)
	return models.ErrInsufficientStock
}

// Restore adds a previously deducted quantity back into the product's
// segmentation, used by the cancel path. The quantity goes to the first
// live segment with room; if none fits, a fresh segment is appended
// under the merge lock so the conservation invariant keeps holding.
func (a *Allocator) Restore(ctx context.Context, productID, quantity int) error {
	segments, err := a.repo.GetValidSegments(ctx, productID)
	if err != nil {
		return err
	}
	for i := range segments {
		seg := segments[i]
		if seg.AvailableStock+quantity > seg.TotalStock {
			continue
		}
		rows, err := a.repo.RestoreStock(ctx, productID, seg.SegmentID, quantity)
		if err != nil {
			return err
		}
		if rows == 1 {
			if err := a.cache.RollbackHashStock(ctx, segmentStockKey(productID), strconv.Itoa(seg.SegmentID), quantity); err != nil {
				a.logger.Warn("cache segment restore failed",
					zap.Int("product_id", productID), zap.Error(err))
			}
			return nil
		}
	}
	return a.appendSegment(ctx, productID, quantity)
}

// Provision creates the initial segmentation for a new product inside
// the caller's transaction. Segment ids start at 1.
func (a *Allocator) Provision(ctx context.Context, tx *gorm.DB, productID, totalStock int) error {
	segs := buildSegments(productID, 1, totalStock, a.cfg.SegmentStock, a.cfg.SegmentStock)
	if totalStock < a.cfg.SegmentStock {
		segs = buildSegments(productID, 1, totalStock, totalStock, a.cfg.SegmentStock)
	}
	return NewRepository(tx).BatchInsert(ctx, segs)
}

// Warm seeds the segment availability hash and the active pointer for a
// product from the database.
func (a *Allocator) Warm(ctx context.Context, productID int) error {
	segments, _, err := a.loadSegments(ctx, productID)
	if err != nil {
		return err
	}
	pointer := PointerExhausted
	for i := range segments {
		if segments[i].AvailableStock > 0 {
			pointer = segments[i].SegmentID
			break
		}
	}
	_, err = a.pointers.Reset(ctx, productID, pointer, len(segments))
	return err
}

// loadSegments reads the live segments and refreshes the secondary
// availability cache, returning the segments and their stock sum.
func (a *Allocator) loadSegments(ctx context.Context, productID int) ([]models.InventorySegment, int, error) {
	segments, err := a.repo.GetValidSegments(ctx, productID)
	if err != nil {
		return nil, 0, err
	}

	total := 0
	stocks := make(map[string]int, len(segments))
	for _, s := range segments {
		total += s.AvailableStock
		if s.AvailableStock > 0 {
			stocks[strconv.Itoa(s.SegmentID)] = s.AvailableStock
		}
	}
	if err := a.cache.FillHash(ctx, segmentStockKey(productID), stocks); err != nil {
		return nil, 0, err
	}
	return segments, total, nil
}

func withoutSegment(segments []models.InventorySegment, segmentID int) []models.InventorySegment {
	out := segments[:0:0]
	for _, s := range segments {
		if s.SegmentID != segmentID {
			out = append(out, s)
		}
	}
	return out
}
