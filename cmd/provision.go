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
	"go.uber.org/zap"
)

var (
	provisionProductID  int
	provisionTotalStock int
)

// provisionCmd creates a product's inventory row and initial segments.
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a product with segmented stock",
	Long: `Creates the inventory row, cuts the stock into segments and warms
the cache entries for one product.

Example:
  safestock provision --product 42 --stock 100`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().IntVar(&provisionProductID, "product", 0, "Product id to provision")
	provisionCmd.Flags().IntVar(&provisionTotalStock, "stock", 0, "Total stock to provision")
	provisionCmd.MarkFlagRequired("product")
	provisionCmd.MarkFlagRequired("stock")

	RootCmd.AddCommand(provisionCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
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

	if err := svc.CreateWithSegments(ctx, provisionProductID, provisionTotalStock); err != nil {
		return fmt.Errorf("failed to provision product %d: %w", provisionProductID, err)
	}

	l.Info("Product provisioned",
		zap.Int("product_id", provisionProductID),
		zap.Int("total_stock", provisionTotalStock))
	return nil
}
