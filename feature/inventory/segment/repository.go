package segment

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"safestock/feature/inventory/models"
)

// Repository persists inventory segments. Segment decrements use the
// same versioned-CAS shape as the aggregate row, scoped to
// (product_id, segment_id).
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository bound to the given handle, which
// may be a transaction.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetValidSegments returns a product's live segments in id order.
func (r *Repository) GetValidSegments(ctx context.Context, productID int) ([]models.InventorySegment, error) {
	var segs []models.InventorySegment
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND status = ?", productID, int(models.SegmentValid)).
		Order("segment_id").
		Find(&segs).Error
	if err != nil {
		return nil, fmt.Errorf("select segments for product %d: %w", productID, err)
	}
	return segs, nil
}

// GetSegmentForUpdate reads one segment under an exclusive row lock.
// Returns nil without error when the segment does not exist.
func (r *Repository) GetSegmentForUpdate(ctx context.Context, productID, segmentID int) (*models.InventorySegment, error) {
	var seg models.InventorySegment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&seg, "product_id = ? AND segment_id = ?", productID, segmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select segment %d/%d for update: %w", productID, segmentID, err)
	}
	return &seg, nil
}

// ReduceStockWithVersion is the versioned conditional decrement for one
// segment. Zero rows affected means a lost race on this segment.
func (r *Repository) ReduceStockWithVersion(ctx context.Context, productID, segmentID, quantity, version int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		"UPDATE inventory_segment SET available_stock = available_stock - ?, version = version + 1 "+
			"WHERE product_id = ? AND segment_id = ? AND version = ? AND status = ?",
		quantity, productID, segmentID, version, int(models.SegmentValid))
	if res.Error != nil {
		return 0, fmt.Errorf("reduce segment %d/%d: %w", productID, segmentID, res.Error)
	}
	return res.RowsAffected, nil
}

// RestoreStock adds a previously deducted quantity back to a segment,
// bounded by the segment's capacity.
func (r *Repository) RestoreStock(ctx context.Context, productID, segmentID, quantity int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		"UPDATE inventory_segment SET available_stock = available_stock + ?, version = version + 1 "+
			"WHERE product_id = ? AND segment_id = ? AND status = ? AND available_stock + ? <= total_stock",
		quantity, productID, segmentID, int(models.SegmentValid), quantity)
	if res.Error != nil {
		return 0, fmt.Errorf("restore segment %d/%d: %w", productID, segmentID, res.Error)
	}
	return res.RowsAffected, nil
}

// MaxSegmentID returns the highest segment id ever used for a product,
// zero when none exist. New segments always get fresh ids so invalidated
// rows keep their history.
func (r *Repository) MaxSegmentID(ctx context.Context, productID int) (int, error) {
	var maxID int
	err := r.db.WithContext(ctx).
		Model(&models.InventorySegment{}).
		Where("product_id = ?", productID).
		Select("COALESCE(MAX(segment_id), 0)").
		Scan(&maxID).Error
	if err != nil {
		return 0, fmt.Errorf("select max segment id for product %d: %w", productID, err)
	}
	return maxID, nil
}

// InvalidateSegments marks all live segments of a product as superseded.
func (r *Repository) InvalidateSegments(ctx context.Context, productID int) error {
	err := r.db.WithContext(ctx).Exec(
		"UPDATE inventory_segment SET status = ? WHERE product_id = ? AND status = ?",
		int(models.SegmentInvalid), productID, int(models.SegmentValid)).Error
	if err != nil {
		return fmt.Errorf("invalidate segments for product %d: %w", productID, err)
	}
	return nil
}

// BatchInsert creates a fresh set of segments.
func (r *Repository) BatchInsert(ctx context.Context, segs []models.InventorySegment) error {
	if len(segs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&segs).Error; err != nil {
		return fmt.Errorf("insert %d segments: %w", len(segs), err)
	}
	return nil
}

// AllValidSegments returns every live segment across products, for the
// periodic fragmentation scan.
func (r *Repository) AllValidSegments(ctx context.Context) ([]models.InventorySegment, error) {
	var segs []models.InventorySegment
	err := r.db.WithContext(ctx).
		Where("status = ?", int(models.SegmentValid)).
		Order("product_id, segment_id").
		Find(&segs).Error
	if err != nil {
		return nil, fmt.Errorf("select all valid segments: %w", err)
	}
	return segs, nil
}
