package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timberbase/prodsched/pkg/config"
	"github.com/timberbase/prodsched/pkg/core"
	"github.com/timberbase/prodsched/pkg/guard"
	"github.com/timberbase/prodsched/pkg/logging"
	"github.com/timberbase/prodsched/pkg/renumber"
	"github.com/timberbase/prodsched/pkg/scheduler"
	"github.com/timberbase/prodsched/pkg/storage"
	"github.com/timberbase/prodsched/ui"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		logger.Error("invalid timezone", "timezone", cfg.Scheduler.Timezone, "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store := storage.NewGormStore(db)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	if err := store.SeedConfigDefaults(ctx); err != nil {
		logger.Error("failed to seed scheduler settings", "error", err)
		os.Exit(1)
	}

	calc := renumber.New(store,
		renumber.WithLogger(logger),
		renumber.WithGroupOrder(cfg.Scheduler.GroupOrder),
	)

	// Single-instance arbitration: in a multi-worker deployment only one
	// process runs the live scheduler. Losing is routine, and any guard
	// failure leaves this process serving requests without a scheduler.
	lock := guard.New(cfg.Scheduler.LockPath)
	sched := initScheduler(ctx, cfg, store, calc, lock, loc, logger)

	gin.SetMode(ginMode(cfg.Server.Mode))
	router := gin.New()
	router.Use(gin.Recovery(), ui.RequestLogger(logger))
	ui.NewHandler(store, calc, sched, loc, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	if sched != nil {
		sched.Stop()
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release scheduler lock", "error", err)
		}
	}
	logger.Info("shutdown complete")
}

// initScheduler arbitrates ownership and, on winning, registers and starts
// the job set. Returns nil when this process runs without a scheduler.
func initScheduler(ctx context.Context, cfg *config.Config, store *storage.GormStore, calc *renumber.Calculator, lock *guard.FileLock, loc *time.Location, logger *slog.Logger) *scheduler.Scheduler {
	owned, err := lock.TryAcquire()
	if err != nil {
		logger.Error("scheduler lock error, continuing without scheduler",
			"path", lock.Path(), "error", err)
		return nil
	}
	if !owned {
		logger.Info("scheduler owned by another process", "path", lock.Path())
		return nil
	}

	sched := scheduler.New(store,
		scheduler.WithLogger(logger),
		scheduler.WithLocation(loc),
		scheduler.WithWorkerSlots(cfg.Scheduler.WorkerSlots),
		scheduler.WithCatchUpDelay(cfg.Scheduler.CatchUpDelay),
	)

	if err := registerJobs(ctx, sched, store, calc, loc, cfg.Scheduler.RetentionDays); err != nil {
		logger.Error("failed to register jobs, continuing without scheduler", "error", err)
		_ = lock.Release()
		return nil
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler, continuing without it", "error", err)
		_ = lock.Release()
		return nil
	}
	return sched
}

func registerJobs(ctx context.Context, sched *scheduler.Scheduler, store *storage.GormStore, calc *renumber.Calculator, loc *time.Location, retentionDays int) error {
	// The renumbering pass runs right after the day boundary so the floor
	// starts each morning with a fresh queue order.
	if err := sched.Register(ctx, core.JobRenumber, scheduler.RenumberTrigger(loc), calc.RunJob); err != nil {
		return err
	}

	check, followUp, err := scheduler.DerivedSchedules(ctx, store, loc)
	if err != nil {
		return err
	}
	if err := sched.Register(ctx, core.JobDailyCheck, check, dailyCheckHandler(store, retentionDays)); err != nil {
		return err
	}
	return sched.Register(ctx, core.JobFollowUp, followUp, followUpHandler(store))
}

// dailyCheckHandler snapshots per-group queue depth for the dashboard
// history and prunes audit records past the retention window.
func dailyCheckHandler(store *storage.GormStore, retentionDays int) scheduler.Handler {
	return func(ctx context.Context) (string, error) {
		now := time.Now()

		counts, err := store.CountPendingByGroup(ctx)
		if err != nil {
			return "", err
		}
		if err := store.SaveQueueSnapshots(ctx, now, counts); err != nil {
			return "", err
		}

		pruned, err := store.PruneRunLog(ctx, now.AddDate(0, 0, -retentionDays))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("snapshotted %d groups, pruned %d run-log entries", len(counts), pruned), nil
	}
}

// staleAfter is how long an order may sit pending before the daily
// follow-up flags it for the sales team.
const staleAfter = 14 * 24 * time.Hour

// followUpHandler flags long-pending orders for follow-up. Actual reminder
// delivery belongs to the CRM mailer, which consumes the run log.
func followUpHandler(store *storage.GormStore) scheduler.Handler {
	return func(ctx context.Context) (string, error) {
		items, err := store.ListPendingItems(ctx)
		if err != nil {
			return "", err
		}

		cutoff := time.Now().Add(-staleAfter)
		stale := 0
		for _, item := range items {
			if item.CreatedAt.Before(cutoff) {
				stale++
			}
		}
		return fmt.Sprintf("flagged %d of %d pending orders for follow-up", stale, len(items)), nil
	}
}

func ginMode(mode string) string {
	if mode == "debug" {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
