package core

import (
	"context"
	"time"
)

// Store defines the persistence layer for the scheduler core. All writes are
// synchronous: a concurrent reader observes a state at least as recent as the
// last completed mutation within the same process.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job state
	SaveJobState(ctx context.Context, jobID string, state RunState, nextRun *time.Time) error
	UpdateLastRun(ctx context.Context, jobID string, ts time.Time) error
	GetJobState(ctx context.Context, jobID string) (*JobState, error)
	GetAllJobStates(ctx context.Context) (map[string]*JobState, error)

	// Scheduler settings
	SeedConfigDefaults(ctx context.Context) error
	GetConfigInt(ctx context.Context, key string, def int) (int, error)
	SetConfigInt(ctx context.Context, key string, value int) error

	// Audit log
	AppendRunLog(ctx context.Context, entry *RunLogEntry) error
	GetRunLog(ctx context.Context, limit int) ([]RunLogEntry, error)
	PruneRunLog(ctx context.Context, before time.Time) (int64, error)

	// Production items
	ListPendingItems(ctx context.Context) ([]*ProductionItem, error)
	BulkUpdateScores(ctx context.Context, scores map[uint]int) error
	CountPendingByGroup(ctx context.Context) (map[string]int64, error)
	TopPendingItems(ctx context.Context, n int) ([]*ProductionItem, error)

	// Queue-depth history
	SaveQueueSnapshots(ctx context.Context, at time.Time, pendingByGroup map[string]int64) error
	GetQueueSnapshots(ctx context.Context, group string, since time.Time) ([]QueueSnapshot, error)
}
