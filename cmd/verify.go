package cmd

import (
	"context"
	"fmt"

	"safestock/core/config"
	"safestock/core/database"
	"safestock/core/logger"
	"safestock/feature/inventory/models"
	"safestock/feature/inventory/reconcile"

	"github.com/spf13/cobra"
)

// verifyCmd runs one pending reservation sweep and exits.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Sweep stuck pending reservations once",
	Long: `Pages through PENDING reservations older than the grace period and
settles each one. Without an order system wired in, indeterminate rows
burn an attempt per run and eventually park as UNKNOWN.`,
	RunE: runVerify,
}

func init() {
	RootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	oracle := reconcile.OracleFunc(func(ctx context.Context, row *models.ReservationLog) (reconcile.Outcome, error) {
		return reconcile.OutcomeIndeterminate, nil
	})

	return reconcile.NewVerifier(db, oracle, cfg.Verify, l).RunOnce(ctx)
}
