// Package prodsched provides the production-queue scheduler core for the
// wood-products back office: a durable daily job scheduler with
// single-instance arbitration across worker processes, and the priority
// calculator that renumbers the pending production queue.
//
// This is the main package hosts should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("prodsched.db"), &gorm.Config{})
//	store := prodsched.NewGormStore(db)
//	store.Migrate(ctx)
//	store.SeedConfigDefaults(ctx)
//
//	calc := prodsched.NewCalculator(store)
//	sched := prodsched.NewScheduler(store)
//	sched.Register(ctx, prodsched.JobRenumber,
//	    prodsched.Daily(0, 1, time.Local), calc.RunJob)
//	sched.Start(ctx)
package prodsched

import (
	"time"

	"gorm.io/gorm"

	"github.com/timberbase/prodsched/pkg/core"
	"github.com/timberbase/prodsched/pkg/guard"
	"github.com/timberbase/prodsched/pkg/renumber"
	"github.com/timberbase/prodsched/pkg/schedule"
	"github.com/timberbase/prodsched/pkg/scheduler"
	"github.com/timberbase/prodsched/pkg/storage"
)

// Type aliases re-exporting the public surface.
type (
	// ProductionItem is one in-flight production unit.
	ProductionItem = core.ProductionItem

	// JobState is the durable record of a named job.
	JobState = core.JobState

	// RunLogEntry is an append-only audit record of a job execution.
	RunLogEntry = core.RunLogEntry

	// Store defines the persistence layer for the scheduler core.
	Store = core.Store

	// Scheduler owns the named jobs and the scheduling loop.
	Scheduler = scheduler.Scheduler

	// Handler executes one job run.
	Handler = scheduler.Handler

	// JobInfo is a read-only snapshot of one job.
	JobInfo = scheduler.JobInfo

	// Schedule defines when a job should run next.
	Schedule = schedule.Schedule

	// Calculator computes and persists priority scores.
	Calculator = renumber.Calculator

	// Result summarizes one renumbering pass.
	Result = renumber.Result

	// QueueStats is the dashboard view of the production queue.
	QueueStats = renumber.QueueStats

	// FileLock is the cross-process single-instance guard.
	FileLock = guard.FileLock

	// GormStore implements Store using GORM.
	GormStore = storage.GormStore
)

// Item status constants.
const (
	ItemPending    = core.ItemPending
	ItemInProgress = core.ItemInProgress
	ItemDone       = core.ItemDone
	ItemCancelled  = core.ItemCancelled
)

// Run state constants.
const (
	RunStateActive = core.RunStateActive
	RunStatePaused = core.RunStatePaused
)

// Well-known job identifiers.
const (
	JobRenumber   = core.JobRenumber
	JobDailyCheck = core.JobDailyCheck
	JobFollowUp   = core.JobFollowUp
)

// Error variables.
var (
	ErrJobNotFound      = core.ErrJobNotFound
	ErrJobAlreadyExists = core.ErrJobAlreadyExists
	ErrJobNotPaused     = core.ErrJobNotPaused
	ErrJobAlreadyPaused = core.ErrJobAlreadyPaused
	ErrUnknownItem      = core.ErrUnknownItem
)

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewScheduler creates a scheduler backed by the given store.
func NewScheduler(s Store, opts ...scheduler.Option) *Scheduler {
	return scheduler.New(s, opts...)
}

// NewCalculator creates a priority calculator backed by the given store.
func NewCalculator(s Store, opts ...renumber.Option) *Calculator {
	return renumber.New(s, opts...)
}

// NewGuard creates a single-instance guard for the given lock file path.
func NewGuard(path string) *FileLock {
	return guard.New(path)
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int, loc *time.Location) Schedule {
	return schedule.Daily(hour, minute, loc)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) (Schedule, error) {
	return schedule.Cron(expr)
}
