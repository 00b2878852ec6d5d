package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"safestock/core/cache"
	"safestock/core/lock"
	"safestock/feature/inventory/models"
	"safestock/feature/inventory/segment"
)

const (
	productLockKeyPrefix = "product_lock:"

	prewarmLockKey   = "inventory:prewarm:lock"
	prewarmStatusKey = "inventory:prewarm:status"
	prewarmLockTTL   = 60 * time.Second
	prewarmStatusTTL = 24 * time.Hour
)

// Service coordinates the reservation protocol and the direct deduction
// paths. A reservation moves stock in the try phase; confirm only seals
// the log row, and cancel is the sole path that puts stock back. Every
// phase is idempotent on the request id.
type Service struct {
	db        *gorm.DB
	repo      *Repository
	ledger    *Ledger
	cache     *cache.Client
	locks     *lock.Lock
	allocator *segment.Allocator
	strategy  MutationStrategy
	cfg       Config
	logger    *zap.Logger
}

// NewService wires the inventory service from shared infrastructure.
func NewService(db *gorm.DB, c *cache.Client, locks *lock.Lock, cfg Config, logger *zap.Logger) (*Service, error) {
	segCfg := segment.DefaultConfig()
	segCfg.SegmentStock = cfg.SegmentStock
	segCfg.Selection = cfg.Selection

	allocator, err := segment.NewAllocator(db, c, locks, segCfg, logger)
	if err != nil {
		return nil, err
	}

	var strategy MutationStrategy
	if cfg.Strategy == StrategySegment {
		strategy = allocator
	} else {
		strategy, err = NewStrategy(cfg.Strategy, db, c, logger)
		if err != nil {
			return nil, err
		}
	}

	return &Service{
		db:        db,
		repo:      NewRepository(db),
		ledger:    NewLedger(db),
		cache:     c,
		locks:     locks,
		allocator: allocator,
		strategy:  strategy,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Allocator exposes the segment allocator for background tasks.
func (s *Service) Allocator() *segment.Allocator {
	return s.allocator
}

func productLockKey(productID int) string {
	return productLockKeyPrefix + strconv.Itoa(productID)
}

// Reserve is the try phase: deduct stock and record a PENDING log row in
// one transaction, keyed by the caller's request id. A replayed request
// id reports ErrDuplicateRequest without moving stock again. Insufficient
// stock fails fast before any write.
func (s *Service) Reserve(ctx context.Context, productID, quantity int, requestID string) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %d", quantity)
	}
	if requestID == "" {
		return errors.New("request id required")
	}

	try := func(ctx context.Context) error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			repo := NewRepository(tx)
			inv, err := repo.GetByProductID(ctx, productID)
			if err != nil {
				return err
			}
			if inv.AvailableStock < quantity {
				return models.ErrInsufficientStock
			}

			if err := NewLedger(tx).InsertPending(ctx, productID, quantity, requestID); err != nil {
				return err
			}

			rows, err := repo.ReduceAvailableStockWithVersion(ctx, productID, quantity, inv.Version)
			if err != nil {
				return err
			}
			if rows == 0 {
				return models.ErrVersionConflict
			}
			return nil
		})
	}

	if s.cfg.UseProductLock {
		ttl := time.Duration(s.cfg.LockTTLSeconds) * time.Second
		return s.locks.WithLock(ctx, productLockKey(productID), ttl, try)
	}
	return try(ctx)
}

// Confirm is the confirm phase: seal the reservation as CONFIRMED. Stock
// already moved in the try phase, so confirming touches only the log row.
// Confirming an already confirmed reservation is a no-op; any other
// terminal state is refused.
func (s *Service) Confirm(ctx context.Context, requestID string) error {
	row, err := s.ledger.GetByRequestID(ctx, requestID)
	if err != nil {
		return err
	}
	if row.Status == models.StatusConfirmed {
		return nil
	}
	if row.Status != models.StatusPending {
		return fmt.Errorf("confirm %s in state %s: %w", requestID, row.Status, models.ErrNotPending)
	}

	rows, err := s.ledger.UpdateStatus(ctx, requestID, models.StatusConfirmed, row.Version)
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// Cancel is the cancel phase: seal the reservation as ROLLBACK and put
// the reserved quantity back, atomically. Canceling an already canceled
// reservation is a no-op; a confirmed or unknown one is refused. Under
// the segment strategy the quantity also flows back into the
// segmentation after the aggregate restore commits.
func (s *Service) Cancel(ctx context.Context, requestID string) error {
	row, err := s.ledger.GetByRequestID(ctx, requestID)
	if err != nil {
		return err
	}
	if row.Status == models.StatusRollback {
		return nil
	}
	if row.Status != models.StatusPending {
		return fmt.Errorf("cancel %s in state %s: %w", requestID, row.Status, models.ErrNotPending)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		rows, err := NewLedger(tx).UpdateStatus(ctx, requestID, models.StatusRollback, row.Version)
		if err != nil {
			return err
		}
		if rows == 0 {
			return models.ErrVersionConflict
		}
		restored, err := NewRepository(tx).RollbackStock(ctx, row.ProductID, row.ReservationQuantity)
		if err != nil {
			return err
		}
		if restored == 0 {
			return fmt.Errorf("rollback of %d units for product %d exceeds provisioned stock",
				row.ReservationQuantity, row.ProductID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cfg.Strategy == StrategySegment {
		// A lost segment restore leaves the segments undercounting the
		// aggregate row, which can refuse but never oversell. The row
		// is already ROLLBACK, so the failure is logged rather than
		// surfaced as a cancel failure.
		if rerr := s.allocator.Restore(ctx, row.ProductID, row.ReservationQuantity); rerr != nil {
			s.logger.Error("segment restore failed after cancel",
				zap.String("request_id", requestID),
				zap.Int("product_id", row.ProductID),
				zap.Int("quantity", row.ReservationQuantity),
				zap.Error(rerr))
		}
	}
	return nil
}

// Reduce applies a direct, unreserved deduction through the configured
// mutation strategy.
func (s *Service) Reduce(ctx context.Context, productID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %d", quantity)
	}
	return s.strategy.Reduce(ctx, productID, quantity)
}

// ReduceSequential applies a deduction through the pointer-guided
// segment path. Capped at one segment's capacity per request.
func (s *Service) ReduceSequential(ctx context.Context, productID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %d", quantity)
	}
	return s.allocator.ReduceSequential(ctx, productID, quantity)
}

// Snapshot returns the current stock row for a product.
func (s *Service) Snapshot(ctx context.Context, productID int) (*models.Inventory, error) {
	return s.repo.GetByProductID(ctx, productID)
}

// CreateWithSegments provisions a product: the aggregate row, its
// initial segmentation, and the warm cache entries, in that order. The
// caches are best effort; a cold entry rebuilds on first use.
func (s *Service) CreateWithSegments(ctx context.Context, productID, totalStock int) error {
	if totalStock <= 0 {
		return fmt.Errorf("invalid total stock %d", totalStock)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := NewRepository(tx).Insert(ctx, &models.Inventory{
			ProductID:      productID,
			TotalStock:     totalStock,
			AvailableStock: totalStock,
		}); err != nil {
			return err
		}
		return s.allocator.Provision(ctx, tx, productID, totalStock)
	})
	if err != nil {
		return err
	}

	if err := s.warmProduct(ctx, productID); err != nil {
		s.logger.Warn("cache warm failed after provisioning",
			zap.Int("product_id", productID), zap.Error(err))
	}
	return nil
}

// Prewarm loads every product's counter, segment availability hash and
// active pointer into the cache. Single-flighted across instances so a
// fleet restart warms once; the status key lets callers observe whether
// a warm pass completed.
func (s *Service) Prewarm(ctx context.Context) error {
	err := s.locks.WithLock(ctx, prewarmLockKey, prewarmLockTTL, func(ctx context.Context) error {
		ids, err := s.repo.AllProductIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.warmProduct(ctx, id); err != nil {
				return fmt.Errorf("warm product %d: %w", id, err)
			}
		}
		if err := s.cache.Set(ctx, prewarmStatusKey, time.Now().Format(time.RFC3339), prewarmStatusTTL); err != nil {
			return err
		}
		s.logger.Info("inventory cache warmed", zap.Int("products", len(ids)))
		return nil
	})
	if errors.Is(err, lock.ErrUnavailable) {
		s.logger.Info("prewarm already running elsewhere")
		return nil
	}
	return err
}

// warmProduct seeds the cache-side counter and segment state for one
// product from the database.
func (s *Service) warmProduct(ctx context.Context, productID int) error {
	inv, err := s.repo.GetByProductID(ctx, productID)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, stockCounterKey(productID), strconv.Itoa(inv.AvailableStock), 0); err != nil {
		return err
	}
	return s.allocator.Warm(ctx, productID)
}
