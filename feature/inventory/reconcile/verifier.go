package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"safestock/feature/inventory"
	"safestock/feature/inventory/models"
)

// Outcome is the upstream system's verdict on a stuck reservation.
type Outcome int

const (
	// OutcomeConfirmed means the upstream transaction completed and the
	// reservation should be sealed as confirmed.
	OutcomeConfirmed Outcome = iota
	// OutcomeRollback means the upstream transaction failed or never
	// existed and the reserved stock should be returned.
	OutcomeRollback
	// OutcomeIndeterminate means the upstream cannot answer yet; the
	// row stays pending and the attempt is counted.
	OutcomeIndeterminate
)

// Oracle answers what actually happened to a reservation whose confirm
// or cancel never arrived, typically by querying the order system.
type Oracle interface {
	Verify(ctx context.Context, row *models.ReservationLog) (Outcome, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, row *models.ReservationLog) (Outcome, error)

// Verify implements Oracle.
func (f OracleFunc) Verify(ctx context.Context, row *models.ReservationLog) (Outcome, error) {
	return f(ctx, row)
}

// Verifier sweeps stuck PENDING reservations and settles each according
// to the oracle's verdict. Every settlement is version-gated, so a
// concurrent confirm or cancel racing the sweep wins cleanly.
type Verifier struct {
	db     *gorm.DB
	ledger *inventory.Ledger
	oracle Oracle
	cfg    Config
	logger *zap.Logger
}

// NewVerifier creates a verifier over the shared database handle.
func NewVerifier(db *gorm.DB, oracle Oracle, cfg Config, logger *zap.Logger) *Verifier {
	return &Verifier{
		db:     db,
		ledger: inventory.NewLedger(db),
		oracle: oracle,
		cfg:    cfg,
		logger: logger,
	}
}

// RunOnce performs one full sweep, paging by id so each row is visited
// at most once per sweep regardless of concurrent settlements.
func (v *Verifier) RunOnce(ctx context.Context) error {
	age := time.Duration(v.cfg.PendingAgeMinutes) * time.Minute
	var minID int64

	for {
		rows, err := v.ledger.PendingOlderThan(ctx, age, minID, v.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for i := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := v.verify(ctx, &rows[i]); err != nil {
				v.logger.Error("reservation verification failed",
					zap.String("request_id", rows[i].RequestID),
					zap.Error(err))
			}
		}
		minID = rows[len(rows)-1].ID
	}
}

// verify settles one stuck reservation. A row that has spent its
// attempts is parked as UNKNOWN without consulting the oracle again;
// UNKNOWN is terminal, keeps the deducted stock, and raises an alert
// for manual resolution. An indeterminate verdict counts an attempt so
// the row is reconsidered next sweep.
func (v *Verifier) verify(ctx context.Context, row *models.ReservationLog) error {
	if row.VerifyTryCount >= v.cfg.MaxTryCount {
		affected, err := v.ledger.UpdateStatus(ctx, row.RequestID, models.StatusUnknown, row.Version)
		if err != nil {
			return err
		}
		if affected == 1 {
			// Stock stays deducted until an operator decides.
			v.logger.Error("reservation parked as unknown, manual action required",
				zap.String("request_id", row.RequestID),
				zap.Int("product_id", row.ProductID),
				zap.Int("quantity", row.ReservationQuantity),
				zap.Int("attempts", row.VerifyTryCount))
		}
		return nil
	}

	outcome, err := v.oracle.Verify(ctx, row)
	if err != nil {
		outcome = OutcomeIndeterminate
		v.logger.Warn("verification oracle error",
			zap.String("request_id", row.RequestID),
			zap.Error(err))
	}

	switch outcome {
	case OutcomeConfirmed:
		affected, err := v.ledger.UpdateStatusAndTryCount(ctx, row.RequestID, models.StatusConfirmed, row.Version)
		if err != nil {
			return err
		}
		if affected == 1 {
			v.logger.Info("stuck reservation confirmed",
				zap.String("request_id", row.RequestID))
		}
		return nil

	case OutcomeRollback:
		err := v.db.Transaction(func(tx *gorm.DB) error {
			affected, err := inventory.NewLedger(tx).UpdateStatusAndTryCount(ctx, row.RequestID, models.StatusRollback, row.Version)
			if err != nil {
				return err
			}
			if affected == 0 {
				// Someone settled the row first; nothing to restore.
				return nil
			}
			restored, err := inventory.NewRepository(tx).RollbackStock(ctx, row.ProductID, row.ReservationQuantity)
			if err != nil {
				return err
			}
			if restored == 0 {
				return fmt.Errorf("rollback of %d units for product %d exceeds provisioned stock",
					row.ReservationQuantity, row.ProductID)
			}
			v.logger.Info("stuck reservation rolled back",
				zap.String("request_id", row.RequestID),
				zap.Int("quantity", row.ReservationQuantity))
			return nil
		})
		return err

	default:
		_, err := v.ledger.IncrementTryCount(ctx, row.RequestID, row.Version)
		return err
	}
}
