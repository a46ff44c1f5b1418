// Package storage provides the GORM-backed Store implementation.
package storage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timberbase/prodsched/pkg/core"
	"github.com/timberbase/prodsched/pkg/security"
)

// GormStore implements core.Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying database handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.ProductionItem{},
		&core.JobState{},
		&core.ConfigEntry{},
		&core.RunLogEntry{},
		&core.QueueSnapshot{},
	)
}

// SaveJobState upserts the run state and advisory next-run time for a job.
// Row-level granularity: concurrent saves for different job IDs are safe.
func (s *GormStore) SaveJobState(ctx context.Context, jobID string, state core.RunState, nextRun *time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.JobState{}).
			Where("job_id = ?", jobID).
			Updates(map[string]any{
				"run_state": state,
				"next_run":  nextRun,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tx.Create(&core.JobState{
				JobID:    jobID,
				RunState: state,
				NextRun:  nextRun,
			}).Error
		}
		return nil
	})
}

// UpdateLastRun records a successful completion. Last-run timestamps are
// monotonic: an older timestamp never overwrites a newer one.
func (s *GormStore) UpdateLastRun(ctx context.Context, jobID string, ts time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.JobState{}).
			Where("job_id = ?", jobID).
			Where("last_run IS NULL OR last_run <= ?", ts).
			Update("last_run", ts)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		// Either the row is missing or it already carries a newer timestamp.
		var count int64
		if err := tx.Model(&core.JobState{}).Where("job_id = ?", jobID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return tx.Create(&core.JobState{
			JobID:    jobID,
			RunState: core.RunStateActive,
			LastRun:  &ts,
		}).Error
	})
}

// GetJobState retrieves the state row for a job, or nil if absent.
func (s *GormStore) GetJobState(ctx context.Context, jobID string) (*core.JobState, error) {
	var state core.JobState
	err := s.db.WithContext(ctx).First(&state, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetAllJobStates returns every persisted job state keyed by job ID. Used at
// startup to restore pause/resume state in one pass.
func (s *GormStore) GetAllJobStates(ctx context.Context) (map[string]*core.JobState, error) {
	var rows []*core.JobState
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	states := make(map[string]*core.JobState, len(rows))
	for _, st := range rows {
		states[st.JobID] = st
	}
	return states, nil
}

// SeedConfigDefaults creates the default scheduler settings for any key that
// has no row yet. Existing values are never overwritten.
func (s *GormStore) SeedConfigDefaults(ctx context.Context) error {
	defaults := map[string]int{
		core.ConfigDailyCheckHour:   core.DefaultDailyCheckHour,
		core.ConfigDailyCheckMinute: core.DefaultDailyCheckMinute,
		core.ConfigEmailSendDelay:   core.DefaultEmailSendDelay,
	}

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			entry := core.ConfigEntry{Key: key, Value: strconv.Itoa(defaults[key])}
			if err := tx.Where("key = ?", key).FirstOrCreate(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConfigInt returns the integer value for key, or def when the row is
// missing or unparseable. Missing configuration is never fatal.
func (s *GormStore) GetConfigInt(ctx context.Context, key string, def int) (int, error) {
	var entry core.ConfigEntry
	err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	v, convErr := strconv.Atoi(entry.Value)
	if convErr != nil {
		return def, nil
	}
	return v, nil
}

// SetConfigInt upserts an integer setting.
func (s *GormStore) SetConfigInt(ctx context.Context, key string, value int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.ConfigEntry{}).
			Where("key = ?", key).
			Update("value", strconv.Itoa(value))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tx.Create(&core.ConfigEntry{Key: key, Value: strconv.Itoa(value)}).Error
		}
		return nil
	})
}

// AppendRunLog writes one audit record. Messages are sanitized before
// storage.
func (s *GormStore) AppendRunLog(ctx context.Context, entry *core.RunLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Message = security.SanitizeRunLogMessage(entry.Message)
	return s.db.WithContext(ctx).Create(entry).Error
}

// GetRunLog returns the most recent audit records, newest first.
func (s *GormStore) GetRunLog(ctx context.Context, limit int) ([]core.RunLogEntry, error) {
	var entries []core.RunLogEntry
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// PruneRunLog deletes audit records older than the cutoff.
func (s *GormStore) PruneRunLog(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&core.RunLogEntry{})
	return result.RowsAffected, result.Error
}

// ListPendingItems returns every item with status pending in a stable base
// order (by ID). Final ordering is the calculator's concern.
func (s *GormStore) ListPendingItems(ctx context.Context) ([]*core.ProductionItem, error) {
	var items []*core.ProductionItem
	err := s.db.WithContext(ctx).
		Where("status = ?", core.ItemPending).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// BulkUpdateScores applies all score changes in one transaction. If any
// referenced item is missing the whole batch is rolled back; partial writes
// are never observable.
func (s *GormStore) BulkUpdateScores(ctx context.Context, scores map[uint]int) error {
	if len(scores) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			result := tx.Model(&core.ProductionItem{}).
				Where("id = ?", id).
				Update("score", scores[id])
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return core.ErrUnknownItem
			}
		}
		return nil
	})
}

type groupCount struct {
	PriorityGroup string
	N             int64
}

// CountPendingByGroup returns pending-item counts keyed by priority group.
func (s *GormStore) CountPendingByGroup(ctx context.Context) (map[string]int64, error) {
	var rows []groupCount
	err := s.db.WithContext(ctx).
		Model(&core.ProductionItem{}).
		Select("priority_group, count(*) as n").
		Where("status = ?", core.ItemPending).
		Group("priority_group").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.PriorityGroup] = row.N
	}
	return counts, nil
}

// TopPendingItems returns the n most urgent pending items. Unscored items
// (score 0) sort after scored ones.
func (s *GormStore) TopPendingItems(ctx context.Context, n int) ([]*core.ProductionItem, error) {
	var items []*core.ProductionItem
	err := s.db.WithContext(ctx).
		Where("status = ?", core.ItemPending).
		Order("score = 0, score ASC, id ASC").
		Limit(n).
		Find(&items).Error
	return items, err
}

// SaveQueueSnapshots writes one queue-depth row per group, all stamped with
// the same timestamp.
func (s *GormStore) SaveQueueSnapshots(ctx context.Context, at time.Time, pendingByGroup map[string]int64) error {
	if len(pendingByGroup) == 0 {
		return nil
	}

	groups := make([]string, 0, len(pendingByGroup))
	for g := range pendingByGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, g := range groups {
			snap := core.QueueSnapshot{Group: g, Pending: pendingByGroup[g], TakenAt: at}
			if err := tx.Create(&snap).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetQueueSnapshots returns the queue-depth history for a group since the
// given time, oldest first.
func (s *GormStore) GetQueueSnapshots(ctx context.Context, group string, since time.Time) ([]core.QueueSnapshot, error) {
	var snaps []core.QueueSnapshot
	err := s.db.WithContext(ctx).
		Where(`"group" = ?`, group).
		Where("taken_at >= ?", since).
		Order("taken_at ASC").
		Find(&snaps).Error
	return snaps, err
}
