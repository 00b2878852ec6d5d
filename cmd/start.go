package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safestock/core/cache"
	"safestock/core/config"
	"safestock/core/database"
	"safestock/core/loader"
	"safestock/core/lock"
	"safestock/core/logger"
	"safestock/core/middleware/auth"
	"safestock/core/middleware/requestid"

	"safestock/feature/inventory"
	"safestock/feature/inventory/models"
	"safestock/feature/inventory/reconcile"
	"safestock/feature/inventory/segment"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the stock service",
	Long:  `Starts the HTTP server, the pending reservation sweep and the segment merge task.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. Load Configuration
		cfg, err := config.LoadConfig(".")
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		// 2. Initialize Logger
		logg, err := logger.New(&cfg.Log)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		// 3. Connect to Database
		db, err := database.Connect(cfg.Database)
		if err != nil {
			logg.Fatal("Failed to connect to database", zap.Error(err))
		}

		// 4. Connect to Cache
		cacheClient, err := cache.NewClient(cfg.Cache, logg)
		if err != nil {
			logg.Fatal("Failed to connect to cache", zap.Error(err))
		}
		locks := lock.New(cacheClient, logg)

		// 5. Initialize Fiber App
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true, // We log our own startup message
		})

		// 6. Initialize Feature Loader
		mgr := loader.NewManager()

		inventoryFeature, err := inventory.NewFeature(db, cacheClient, locks, cfg.Inventory, logg)
		if err != nil {
			logg.Fatal("Failed to build inventory feature", zap.Error(err))
		}
		mgr.Register(inventoryFeature)

		// Middleware Registration
		// Request id must come first to trace everything
		app.Use(requestid.New())

		app.Use(func(c *fiber.Ctx) error {
			l := logger.WithRequestID(logg, c)
			l.Info("Request started",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			err := c.Next()
			if err != nil {
				l.Error("Request error", zap.Error(err))
			}
			return err
		})

		app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey}))

		// 7. Load Features
		if err := mgr.LoadAll(app); err != nil {
			logg.Fatal("Failed to load features", zap.Error(err))
		}

		// 8. Background tasks
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Without an upstream order system wired, the oracle never
		// answers, so stuck rows exhaust their attempts and park as
		// UNKNOWN for manual resolution.
		oracle := reconcile.OracleFunc(func(ctx context.Context, row *models.ReservationLog) (reconcile.Outcome, error) {
			return reconcile.OutcomeIndeterminate, nil
		})
		verifier := reconcile.NewVerifier(db, oracle, cfg.Verify, logg)
		go reconcile.NewScheduler(verifier, locks, logg).Run(ctx)

		mergeInterval := time.Duration(cfg.Inventory.MergeIntervalMinutes) * time.Minute
		go segment.NewMergeTask(inventoryFeature.Service().Allocator(), mergeInterval, logg).Run(ctx)

		// 9. Start Server
		go func() {
			logg.Info("Starting server", zap.String("port", cfg.Server.Port))
			if err := app.Listen(":" + cfg.Server.Port); err != nil {
				logg.Fatal("Server failed to start", zap.Error(err))
			}
		}()

		// 10. Graceful Shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logg.Info("Shutting down server...")
		cancel()
		_ = app.Shutdown()
	},
}

func init() {
	RootCmd.AddCommand(startCmd)
}
