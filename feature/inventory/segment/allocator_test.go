package segment

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"safestock/core/cache"
	"safestock/core/lock"
	"safestock/feature/inventory/models"
)

func setupAllocator(t *testing.T) (*Allocator, sqlmock.Sqlmock, *miniredis.Miniredis) {
	db, mock := setupMockDB(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewClientFromRedis(rdb, zap.NewNop())

	a, err := NewAllocator(db, c, lock.New(c, zap.NewNop()), DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return a, mock, mr
}

func TestReduceInSegment(t *testing.T) {
	a, mock, mr := setupAllocator(t)
	ctx := context.Background()

	mr.HSet("inventory:segments:stock:1", "2", "5")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inventory_segment SET").
		WithArgs(3, 1, 2, 7, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	seg := &models.InventorySegment{ProductID: 1, SegmentID: 2, TotalStock: 8, AvailableStock: 5, Version: 7}
	err := a.reduceInSegment(ctx, 1, seg, 3, []models.InventorySegment{*seg})
	require.NoError(t, err)

	assert.Equal(t, "2", mr.HGet("inventory:segments:stock:1", "2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReduceInSegmentLostRaceCompensatesCache(t *testing.T) {
	a, mock, mr := setupAllocator(t)
	ctx := context.Background()

	mr.HSet("inventory:segments:stock:1", "2", "5")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inventory_segment SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	seg := &models.InventorySegment{ProductID: 1, SegmentID: 2, TotalStock: 8, AvailableStock: 5, Version: 7}
	err := a.reduceInSegment(ctx, 1, seg, 3, []models.InventorySegment{*seg})
	assert.ErrorIs(t, err, models.ErrVersionConflict)

	// The cache-side decrement must be rolled back.
	assert.Equal(t, "5", mr.HGet("inventory:segments:stock:1", "2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReduceInSegmentCacheRefusal(t *testing.T) {
	a, mock, mr := setupAllocator(t)
	ctx := context.Background()

	mr.HSet("inventory:segments:stock:1", "2", "1")

	seg := &models.InventorySegment{ProductID: 1, SegmentID: 2, TotalStock: 8, AvailableStock: 5, Version: 7}
	err := a.reduceInSegment(ctx, 1, seg, 3, []models.InventorySegment{*seg})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	// No database statement may run when the cache refuses.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReduceInsufficientTotal(t *testing.T) {
	a, mock, _ := setupAllocator(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"product_id", "segment_id", "total_stock", "available_stock", "version", "status"}).
		AddRow(1, 1, 4, 2, 0, 1).
		AddRow(1, 2, 4, 1, 0, 1)
	mock.ExpectQuery("SELECT \\* FROM `inventory_segment`").WillReturnRows(rows)

	err := a.Reduce(ctx, 1, 10)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionCutsStandardSegments(t *testing.T) {
	a, mock, _ := setupAllocator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `inventory_segment`").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := a.db.Transaction(func(tx *gorm.DB) error {
		return a.Provision(ctx, tx, 1, 10)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreIntoFirstFittingSegment(t *testing.T) {
	a, mock, mr := setupAllocator(t)
	ctx := context.Background()

	mr.HSet("inventory:segments:stock:1", "2", "1")

	// Segment 1 is full; segment 2 has room for the returned quantity.
	rows := sqlmock.NewRows([]string{"product_id", "segment_id", "total_stock", "available_stock", "version", "status"}).
		AddRow(1, 1, 4, 4, 0, 1).
		AddRow(1, 2, 4, 1, 0, 1)
	mock.ExpectQuery("SELECT \\* FROM `inventory_segment`").WillReturnRows(rows)
	mock.ExpectExec("UPDATE inventory_segment SET").
		WithArgs(3, 1, 2, 1, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := a.Restore(ctx, 1, 3)
	require.NoError(t, err)

	// The cache-side availability follows the restored row.
	assert.Equal(t, "4", mr.HGet("inventory:segments:stock:1", "2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreAppendsSegmentWhenAllFull(t *testing.T) {
	a, mock, _ := setupAllocator(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"product_id", "segment_id", "total_stock", "available_stock", "version", "status"}).
		AddRow(1, 1, 4, 4, 0, 1).
		AddRow(1, 2, 4, 4, 0, 1)
	mock.ExpectQuery("SELECT \\* FROM `inventory_segment`").WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2))
	mock.ExpectExec("INSERT INTO `inventory_segment`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := a.Restore(ctx, 1, 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithoutSegment(t *testing.T) {
	in := segs(4, 4, 4)
	out := withoutSegment(in, 2)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].SegmentID)
	assert.Equal(t, 3, out[1].SegmentID)
	assert.Len(t, in, 3, "input slice must not be mutated")
}
