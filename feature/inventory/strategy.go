package inventory

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"safestock/core/cache"
	"safestock/feature/inventory/models"
)

const stockCounterKeyPrefix = "product_stock:"

// MutationStrategy is one way of applying a direct stock deduction.
// Implementations differ in how they pay for contention, not in outcome:
// a successful Reduce always means exactly quantity units left the
// available stock.
type MutationStrategy interface {
	Name() string
	Reduce(ctx context.Context, productID, quantity int) error
}

// Strategy names accepted by NewStrategy.
const (
	StrategyOptimistic   = "optimistic"
	StrategyPessimistic  = "pessimistic"
	StrategyCacheCounter = "cache_counter"
	StrategySegment      = "segment"
)

// NewStrategy returns the deduction strategy registered under name.
// The segment strategy is constructed by the service, which owns the
// allocator.
func NewStrategy(name string, db *gorm.DB, c *cache.Client, logger *zap.Logger) (MutationStrategy, error) {
	switch name {
	case StrategyOptimistic:
		return &optimisticStrategy{db: db}, nil
	case StrategyPessimistic:
		return &pessimisticStrategy{db: db}, nil
	case StrategyCacheCounter:
		return &cacheCounterStrategy{db: db, cache: c, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown mutation strategy %q", name)
	}
}

// optimisticStrategy deducts with a versioned CAS. Cheap under low
// contention; a lost race surfaces as ErrVersionConflict so the caller
// can retry against a fresh snapshot instead of misreading it as
// insufficiency.
type optimisticStrategy struct {
	db *gorm.DB
}

func (s *optimisticStrategy) Name() string { return StrategyOptimistic }

func (s *optimisticStrategy) Reduce(ctx context.Context, productID, quantity int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		inv, err := repo.GetByProductID(ctx, productID)
		if err != nil {
			return err
		}
		if inv.AvailableStock < quantity {
			return models.ErrInsufficientStock
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

// pessimisticStrategy serializes on the row lock. Predictable under
// heavy contention on a single product, at the cost of queueing every
// writer.
type pessimisticStrategy struct {
	db *gorm.DB
}

func (s *pessimisticStrategy) Name() string { return StrategyPessimistic }

func (s *pessimisticStrategy) Reduce(ctx context.Context, productID, quantity int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		inv, err := repo.GetByProductIDForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if inv.AvailableStock < quantity {
			return models.ErrInsufficientStock
		}
		rows, err := repo.ReduceAvailableStock(ctx, productID, quantity)
		if err != nil {
			return err
		}
		if rows == 0 {
			return models.ErrInsufficientStock
		}
		return nil
	})
}

// cacheCounterStrategy admits requests through an atomic cache counter
// before touching the database, so the database only sees traffic that
// can actually be served. A failed database write compensates the
// counter; the counter may therefore briefly undercount but never
// oversell.
type cacheCounterStrategy struct {
	db     *gorm.DB
	cache  *cache.Client
	logger *zap.Logger
}

func (s *cacheCounterStrategy) Name() string { return StrategyCacheCounter }

func stockCounterKey(productID int) string {
	return stockCounterKeyPrefix + strconv.Itoa(productID)
}

func (s *cacheCounterStrategy) Reduce(ctx context.Context, productID, quantity int) error {
	key := stockCounterKey(productID)
	res, err := s.cache.ReduceStock(ctx, key, quantity)
	if err != nil {
		return err
	}
	switch res {
	case cache.ReduceSuccess:
	case cache.ReduceMissing:
		return models.ErrProductNotFound
	default:
		return models.ErrInsufficientStock
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		rows, err := NewRepository(tx).ReduceAvailableStock(ctx, productID, quantity)
		if err != nil {
			return err
		}
		if rows == 0 {
			return models.ErrInsufficientStock
		}
		return nil
	})
	if err != nil {
		if rbErr := s.cache.RollbackStock(ctx, key, quantity); rbErr != nil {
			s.logger.Error("stock counter rollback failed",
				zap.Int("product_id", productID),
				zap.Int("quantity", quantity),
				zap.Error(rbErr))
		}
		return err
	}
	return nil
}
