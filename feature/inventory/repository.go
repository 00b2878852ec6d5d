package inventory

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"safestock/feature/inventory/models"
)

// Repository persists the authoritative inventory row. All stock
// mutations are single conditional statements returning rows-affected;
// zero rows on the versioned path means a lost optimistic race, which
// callers must treat as a retryable conflict, not as insufficiency.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository bound to the given handle, which
// may be a transaction.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetByProductID returns the stock snapshot for a product.
func (r *Repository) GetByProductID(ctx context.Context, productID int) (*models.Inventory, error) {
	var inv models.Inventory
	err := r.db.WithContext(ctx).First(&inv, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select inventory %d: %w", productID, err)
	}
	return &inv, nil
}

// GetByProductIDForUpdate reads the row under an exclusive row lock.
// Only meaningful inside a transaction; the lock is held until commit.
func (r *Repository) GetByProductIDForUpdate(ctx context.Context, productID int) (*models.Inventory, error) {
	var inv models.Inventory
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&inv, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select inventory %d for update: %w", productID, err)
	}
	return &inv, nil
}

// ReduceAvailableStock decrements without a version check. The stock
// guard in the WHERE clause keeps available_stock non-negative even if
// the caller's snapshot was stale, so it is safe under the row lock of
// GetByProductIDForUpdate.
func (r *Repository) ReduceAvailableStock(ctx context.Context, productID, quantity int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		"UPDATE inventory SET available_stock = available_stock - ? "+
			"WHERE product_id = ? AND available_stock >= ?",
		quantity, productID, quantity)
	if res.Error != nil {
		return 0, fmt.Errorf("reduce inventory %d: %w", productID, res.Error)
	}
	return res.RowsAffected, nil
}

// ReduceAvailableStockWithVersion is the optimistic CAS decrement.
// Zero rows affected means the version moved since the snapshot.
func (r *Repository) ReduceAvailableStockWithVersion(ctx context.Context, productID, quantity, version int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		"UPDATE inventory SET available_stock = available_stock - ?, version = version + 1 "+
			"WHERE product_id = ? AND version = ?",
		quantity, productID, version)
	if res.Error != nil {
		return 0, fmt.Errorf("reduce inventory %d with version: %w", productID, res.Error)
	}
	return res.RowsAffected, nil
}

// RollbackStock restores a previously deducted quantity. The total_stock
// guard refuses a restore that would exceed what was ever provisioned.
func (r *Repository) RollbackStock(ctx context.Context, productID, quantity int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		"UPDATE inventory SET available_stock = available_stock + ?, version = version + 1 "+
			"WHERE product_id = ? AND available_stock + ? <= total_stock",
		quantity, productID, quantity)
	if res.Error != nil {
		return 0, fmt.Errorf("rollback inventory %d: %w", productID, res.Error)
	}
	return res.RowsAffected, nil
}

// Insert creates the inventory row for a newly provisioned product.
func (r *Repository) Insert(ctx context.Context, inv *models.Inventory) error {
	if err := r.db.WithContext(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("insert inventory %d: %w", inv.ProductID, err)
	}
	return nil
}

// AllProductIDs lists every provisioned product, used by prewarm.
func (r *Repository) AllProductIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := r.db.WithContext(ctx).
		Model(&models.Inventory{}).
		Order("product_id").
		Pluck("product_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("select product ids: %w", err)
	}
	return ids, nil
}
