package models

import "errors"

// Business conditions and concurrency outcomes shared across the
// inventory packages. Insufficient stock and non-pending state are
// expected results the caller branches on; a version conflict is a
// retryable lost race, never an insufficiency signal.
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrVersionConflict     = errors.New("version conflict")
	ErrNotPending          = errors.New("reservation is not pending")
	ErrDuplicateRequest    = errors.New("duplicate request id")
	ErrReservationNotFound = errors.New("reservation not found")
)
