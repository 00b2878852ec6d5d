package inventory

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safestock/core/lock"
	"safestock/feature/inventory/models"
	"safestock/feature/inventory/segment"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)
	c, _ := setupCache(t)

	cfg := Config{
		Strategy:       StrategyOptimistic,
		Selection:      segment.SelectionBestMatch,
		SegmentStock:   4,
		LockTTLSeconds: 5,
	}
	svc, err := NewService(db, c, lock.New(c, zap.NewNop()), cfg, zap.NewNop())
	require.NoError(t, err)
	return svc, mock
}

func reservationRows(id int64, requestID string, productID, quantity int, status models.ReservationStatus, tryCount, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "request_id", "product_id", "reservation_quantity", "status", "verify_try_count", "version"}).
		AddRow(id, requestID, productID, quantity, int(status), tryCount, version)
}

func TestReserve(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `inventory`").
		WillReturnRows(inventoryRows(1, 100, 40, 7))
	mock.ExpectExec("INSERT INTO `inventory_reservation_log`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE inventory SET").
		WithArgs(5, 1, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.Reserve(context.Background(), 1, 5, "req-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveInsufficientFailsFast(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `inventory`").
		WillReturnRows(inventoryRows(1, 100, 2, 7))
	mock.ExpectRollback()

	err := svc.Reserve(context.Background(), 1, 5, "req-1")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet(), "no write may happen on fast fail")
}

func TestReserveDuplicateRequestID(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `inventory`").
		WillReturnRows(inventoryRows(1, 100, 40, 7))
	mock.ExpectExec("INSERT INTO `inventory_reservation_log`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.Reserve(context.Background(), 1, 5, "req-1")
	assert.ErrorIs(t, err, models.ErrDuplicateRequest,
		"a replayed request id must not move stock twice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveLostRaceRollsBackLogRow(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `inventory`").
		WillReturnRows(inventoryRows(1, 100, 40, 7))
	mock.ExpectExec("INSERT INTO `inventory_reservation_log`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE inventory SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.Reserve(context.Background(), 1, 5, "req-1")
	assert.ErrorIs(t, err, models.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)

	assert.Error(t, svc.Reserve(context.Background(), 1, 0, "req-1"))
	assert.Error(t, svc.Reserve(context.Background(), 1, 5, ""))
}

func TestConfirm(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusPending, 0, 2))
	mock.ExpectExec("UPDATE inventory_reservation_log SET").
		WithArgs(int(models.StatusConfirmed), "req-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Confirm(context.Background(), "req-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "confirm must not touch stock")
}

func TestConfirmIdempotent(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusConfirmed, 0, 3))

	err := svc.Confirm(context.Background(), "req-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmAfterCancelRefused(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusRollback, 0, 3))

	err := svc.Confirm(context.Background(), "req-1")
	assert.ErrorIs(t, err, models.ErrNotPending)
}

func TestCancelRestoresStock(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusPending, 0, 2))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inventory_reservation_log SET").
		WithArgs(int(models.StatusRollback), "req-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE inventory SET").
		WithArgs(5, 1, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.Cancel(context.Background(), "req-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelSegmentStrategyRestoresSegments(t *testing.T) {
	db, mock := setupMockDB(t)
	c, mr := setupCache(t)

	cfg := Config{
		Strategy:       StrategySegment,
		Selection:      segment.SelectionBestMatch,
		SegmentStock:   4,
		LockTTLSeconds: 5,
	}
	svc, err := NewService(db, c, lock.New(c, zap.NewNop()), cfg, zap.NewNop())
	require.NoError(t, err)

	mr.HSet("inventory:segments:stock:1", "1", "2")

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusPending, 0, 2))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inventory_reservation_log SET").
		WithArgs(int(models.StatusRollback), "req-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE inventory SET").
		WithArgs(5, 1, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// After the aggregate restore commits, the quantity flows back into
	// the segmentation.
	segRows := sqlmock.NewRows([]string{"product_id", "segment_id", "total_stock", "available_stock", "version", "status"}).
		AddRow(1, 1, 8, 2, 3, 1)
	mock.ExpectQuery("SELECT \\* FROM `inventory_segment`").WillReturnRows(segRows)
	mock.ExpectExec("UPDATE inventory_segment SET").
		WithArgs(5, 1, 1, 1, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = svc.Cancel(context.Background(), "req-1")
	assert.NoError(t, err)
	assert.Equal(t, "7", mr.HGet("inventory:segments:stock:1", "1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelIdempotent(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusRollback, 0, 3))

	err := svc.Cancel(context.Background(), "req-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAfterConfirmRefused(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusConfirmed, 0, 3))

	err := svc.Cancel(context.Background(), "req-1")
	assert.ErrorIs(t, err, models.ErrNotPending)
	assert.NoError(t, mock.ExpectationsWereMet(), "confirmed stock must stay deducted")
}

func TestCancelUnknownRefused(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusUnknown, 3, 4))

	err := svc.Cancel(context.Background(), "req-1")
	assert.ErrorIs(t, err, models.ErrNotPending)
}

func TestCancelRacingSettlement(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM `inventory_reservation_log`").
		WillReturnRows(reservationRows(1, "req-1", 1, 5, models.StatusPending, 0, 2))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inventory_reservation_log SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.Cancel(context.Background(), "req-1")
	assert.ErrorIs(t, err, models.ErrVersionConflict,
		"losing the settlement race must not restore stock")
	assert.NoError(t, mock.ExpectationsWereMet())
}
