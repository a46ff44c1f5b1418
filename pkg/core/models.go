package core

import (
	"time"
)

// ItemStatus represents the production state of an item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemDone       ItemStatus = "done"
	ItemCancelled  ItemStatus = "cancelled"
)

// ProductionItem is one in-flight production unit. Items are created when an
// order is ingested and only ever transition to a terminal status; they are
// never deleted.
type ProductionItem struct {
	ID            uint       `gorm:"primaryKey"`
	OrderRef      string     `gorm:"index;size:64"`
	Name          string     `gorm:"size:255;not null"`
	PriorityGroup string     `gorm:"index;size:64;not null"`
	Score         int        `gorm:"index;default:0"` // 0 = not yet assigned
	Status        ItemStatus `gorm:"index;size:20;default:'pending'"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

// RunState is the persisted run state of a scheduled job.
type RunState string

const (
	RunStateActive RunState = "active"
	RunStatePaused RunState = "paused"
)

// JobState is the durable record of a named job. At most one row exists per
// job ID; LastRun is monotonically non-decreasing. NextRun is advisory only,
// recomputed by the in-memory scheduler and stored for display and catch-up
// decisions.
type JobState struct {
	JobID     string     `gorm:"primaryKey;size:64"`
	RunState  RunState   `gorm:"size:20;default:'active'"`
	LastRun   *time.Time `gorm:"index"`
	NextRun   *time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// ConfigEntry is a key/value scheduler setting. Entries are seeded with
// defaults on first boot and read-only from the scheduler's perspective.
type ConfigEntry struct {
	Key       string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"size:255;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Scheduler setting keys and defaults.
const (
	ConfigDailyCheckHour   = "daily_check_hour"
	ConfigDailyCheckMinute = "daily_check_minute"
	ConfigEmailSendDelay   = "email_send_delay" // minutes after the daily check

	DefaultDailyCheckHour   = 16
	DefaultDailyCheckMinute = 0
	DefaultEmailSendDelay   = 60
)

// RunTrigger records what caused a job execution.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerCatchUp   RunTrigger = "catchup"
	TriggerManual    RunTrigger = "manual"
)

// RunLogEntry is an append-only audit record of a job execution or failure.
// Entries are never mutated, only pruned by the retention job.
type RunLogEntry struct {
	ID        string     `gorm:"primaryKey;size:36"`
	JobID     string     `gorm:"index;size:64;not null"`
	Trigger   RunTrigger `gorm:"size:20;default:'scheduled'"`
	Success   bool       `gorm:"index"`
	Message   string     `gorm:"type:text"`
	CreatedAt time.Time  `gorm:"index;autoCreateTime"`
}

// QueueSnapshot stores a per-group pending count taken by the daily check
// job, used for the dashboard's queue-depth history.
type QueueSnapshot struct {
	ID        uint      `gorm:"primaryKey"`
	Group     string    `gorm:"index:idx_queue_snapshots_group_ts;size:64;not null"`
	Pending   int64     `gorm:"default:0"`
	TakenAt   time.Time `gorm:"index:idx_queue_snapshots_group_ts;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
