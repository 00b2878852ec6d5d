package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"safestock/feature/inventory/models"
)

// Ledger persists reservation log rows. Status transitions are
// version-gated updates: a transition only applies to the version it was
// computed against, so a racing writer can never silently overwrite one.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a ledger bound to the given handle, which may be a
// transaction.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// GetByRequestID returns the log row for an idempotency key.
func (l *Ledger) GetByRequestID(ctx context.Context, requestID string) (*models.ReservationLog, error) {
	var row models.ReservationLog
	err := l.db.WithContext(ctx).First(&row, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select reservation log %s: %w", requestID, err)
	}
	return &row, nil
}

// InsertPending creates the PENDING row for a try call. The unique
// request_id index plus the do-nothing conflict clause makes retried
// tries idempotent: a duplicate insert affects zero rows and returns
// ErrDuplicateRequest so the caller can decide how to report it.
func (l *Ledger) InsertPending(ctx context.Context, productID, quantity int, requestID string) error {
	row := models.ReservationLog{
		RequestID:           requestID,
		ProductID:           productID,
		ReservationQuantity: quantity,
		Status:              models.StatusPending,
	}
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return fmt.Errorf("insert reservation log %s: %w", requestID, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrDuplicateRequest
	}
	return nil
}

// UpdateStatus applies a version-gated status transition.
func (l *Ledger) UpdateStatus(ctx context.Context, requestID string, status models.ReservationStatus, version int) (int64, error) {
	res := l.db.WithContext(ctx).Exec(
		"UPDATE inventory_reservation_log SET status = ?, version = version + 1 "+
			"WHERE request_id = ? AND version = ?",
		int(status), requestID, version)
	if res.Error != nil {
		return 0, fmt.Errorf("update reservation log %s status: %w", requestID, res.Error)
	}
	return res.RowsAffected, nil
}

// UpdateStatusAndTryCount transitions status and counts the verification
// attempt in one version-gated statement. Used by reconciliation.
func (l *Ledger) UpdateStatusAndTryCount(ctx context.Context, requestID string, status models.ReservationStatus, version int) (int64, error) {
	res := l.db.WithContext(ctx).Exec(
		"UPDATE inventory_reservation_log SET status = ?, version = version + 1, "+
			"verify_try_count = verify_try_count + 1 "+
			"WHERE request_id = ? AND version = ?",
		int(status), requestID, version)
	if res.Error != nil {
		return 0, fmt.Errorf("update reservation log %s status and try count: %w", requestID, res.Error)
	}
	return res.RowsAffected, nil
}

// IncrementTryCount counts an indeterminate verification attempt without
// changing the status, so the row is reconsidered next cycle.
func (l *Ledger) IncrementTryCount(ctx context.Context, requestID string, version int) (int64, error) {
	res := l.db.WithContext(ctx).Exec(
		"UPDATE inventory_reservation_log SET version = version + 1, "+
			"verify_try_count = verify_try_count + 1 "+
			"WHERE request_id = ? AND version = ?",
		requestID, version)
	if res.Error != nil {
		return 0, fmt.Errorf("update reservation log %s try count: %w", requestID, res.Error)
	}
	return res.RowsAffected, nil
}

// PendingOlderThan pages through PENDING rows created before the grace
// period, ordered by id, starting after minID. The cursor keeps a full
// scan from reprocessing rows across pages.
func (l *Ledger) PendingOlderThan(ctx context.Context, age time.Duration, minID int64, limit int) ([]models.ReservationLog, error) {
	var rows []models.ReservationLog
	cutoff := time.Now().Add(-age)
	err := l.db.WithContext(ctx).
		Where("status = ? AND id > ? AND create_time <= ?", int(models.StatusPending), minID, cutoff).
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select pending reservation logs: %w", err)
	}
	return rows, nil
}
