package cmd

import (
	"context"
	"fmt"

	"safestock/core/cache"
	"safestock/core/config"
	"safestock/core/database"
	"safestock/core/lock"
	"safestock/core/logger"
	"safestock/feature/inventory"

	"github.com/spf13/cobra"
)

// prewarmCmd loads every product's cache entries ahead of traffic.
var prewarmCmd = &cobra.Command{
	Use:   "prewarm",
	Short: "Warm the stock caches for all products",
	Long: `Seeds the cache-side stock counters, segment availability hashes and
active segment pointers from the database. Single-flighted, so running
it on several instances at once warms only once.`,
	RunE: runPrewarm,
}

func init() {
	RootCmd.AddCommand(prewarmCmd)
}

func runPrewarm(cmd *cobra.Command, args []string) error {
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

	cacheClient, err := cache.NewClient(cfg.Cache, l)
	if err != nil {
		return fmt.Errorf("failed to connect to cache: %w", err)
	}

	svc, err := inventory.NewService(db, cacheClient, lock.New(cacheClient, l), cfg.Inventory, l)
	if err != nil {
		return err
	}

	return svc.Prewarm(ctx)
}
