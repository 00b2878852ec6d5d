package segment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"safestock/feature/inventory/models"
)

// MergeTask periodically scans live segments and rebuilds fragmented
// products. Merges already serialize per product on the merge lock, so
// overlapping task runs across instances are safe, just wasteful.
type MergeTask struct {
	allocator *Allocator
	interval  time.Duration
	logger    *zap.Logger
}

// NewMergeTask creates the periodic fragmentation scanner.
func NewMergeTask(allocator *Allocator, interval time.Duration, logger *zap.Logger) *MergeTask {
	return &MergeTask{allocator: allocator, interval: interval, logger: logger}
}

// Run scans on the configured interval until the context is canceled.
func (t *MergeTask) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.RunOnce(ctx); err != nil {
				t.logger.Error("segment merge scan failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs one fragmentation scan over all products.
func (t *MergeTask) RunOnce(ctx context.Context) error {
	segs, err := t.allocator.repo.AllValidSegments(ctx)
	if err != nil {
		return err
	}

	byProduct := make(map[int][]models.InventorySegment)
	for _, s := range segs {
		byProduct[s.ProductID] = append(byProduct[s.ProductID], s)
	}

	for productID, product := range byProduct {
		if !NeedsMerge(product, t.allocator.cfg.Check) {
			continue
		}
		err := t.allocator.StandardMerge(ctx, productID)
		switch {
		case err == nil:
			t.logger.Info("fragmented product merged", zap.Int("product_id", productID))
		case errors.Is(err, ErrMergeInProgress):
			// Another instance got there first.
		case errors.Is(err, models.ErrInsufficientStock):
			// Fully drained; nothing to redistribute.
		default:
			t.logger.Error("merge failed",
				zap.Int("product_id", productID), zap.Error(err))
		}
	}
	return nil
}
