package models

import "time"

// Inventory is the authoritative stock row for one product.
// It is mutated only through conditional (version-matched) updates, so
// 0 <= AvailableStock <= TotalStock holds at all times.
type Inventory struct {
	ProductID      int       `gorm:"column:product_id;primaryKey"`
	TotalStock     int       `gorm:"column:total_stock"`
	AvailableStock int       `gorm:"column:available_stock"`
	Version        int       `gorm:"column:version"`
	CreateTime     time.Time `gorm:"column:create_time;autoCreateTime"`
	UpdateTime     time.Time `gorm:"column:update_time;autoUpdateTime"`
}

// TableName overrides the table name.
func (Inventory) TableName() string {
	return "inventory"
}

// SegmentStatus marks a segment row as live or superseded by a merge.
type SegmentStatus int

const (
	SegmentValid   SegmentStatus = 1
	SegmentInvalid SegmentStatus = -1
)

// InventorySegment is one independently lockable shard of a product's
// stock. The sum of AvailableStock over valid segments never exceeds
// the product's true available stock, and equals it right after a merge.
type InventorySegment struct {
	ProductID      int           `gorm:"column:product_id;primaryKey"`
	SegmentID      int           `gorm:"column:segment_id;primaryKey"`
	TotalStock     int           `gorm:"column:total_stock"`
	AvailableStock int           `gorm:"column:available_stock"`
	Version        int           `gorm:"column:version"`
	Status         SegmentStatus `gorm:"column:status"`
	CreateTime     time.Time     `gorm:"column:create_time;autoCreateTime"`
	UpdateTime     time.Time     `gorm:"column:update_time;autoUpdateTime"`
}

// TableName overrides the table name.
func (InventorySegment) TableName() string {
	return "inventory_segment"
}

// ReservationStatus is the reservation log state machine. PENDING is the
// only non-terminal state; every transition out of it is final.
type ReservationStatus int

const (
	StatusPending   ReservationStatus = 1
	StatusConfirmed ReservationStatus = 2
	StatusRollback  ReservationStatus = 3
	StatusUnknown   ReservationStatus = 4
)

// Terminal reports whether no further status transition may succeed.
func (s ReservationStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRollback || s == StatusUnknown
}

func (s ReservationStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusRollback:
		return "ROLLBACK"
	case StatusUnknown:
		return "UNKNOWN"
	default:
		return "INVALID"
	}
}

// ReservationLog is the ledger row for one try call. RequestID is the
// idempotency key; rows are created once and never deleted.
type ReservationLog struct {
	ID                  int64             `gorm:"column:id;primaryKey;autoIncrement"`
	RequestID           string            `gorm:"column:request_id;uniqueIndex;size:64"`
	ProductID           int               `gorm:"column:product_id"`
	ReservationQuantity int               `gorm:"column:reservation_quantity"`
	Status              ReservationStatus `gorm:"column:status"`
	VerifyTryCount      int               `gorm:"column:verify_try_count"`
	Version             int               `gorm:"column:version"`
	CreateTime          time.Time         `gorm:"column:create_time;autoCreateTime"`
	UpdateTime          time.Time         `gorm:"column:update_time;autoUpdateTime"`
}

// TableName overrides the table name.
func (ReservationLog) TableName() string {
	return "inventory_reservation_log"
}
