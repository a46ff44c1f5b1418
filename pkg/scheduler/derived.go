package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/timberbase/prodsched/pkg/core"
	"github.com/timberbase/prodsched/pkg/schedule"
)

// RenumberTrigger is the fixed daily trigger for the queue renumbering job,
// just past the day boundary.
func RenumberTrigger(loc *time.Location) schedule.Schedule {
	return schedule.Daily(0, 1, loc)
}

// DerivedSchedules builds the daily-check trigger and the follow-up trigger
// that depends on it (check time plus the configured delay) from the
// persisted scheduler settings. Missing settings fall back to defaults.
func DerivedSchedules(ctx context.Context, store core.Store, loc *time.Location) (check, followUp schedule.Schedule, err error) {
	hour, err := store.GetConfigInt(ctx, core.ConfigDailyCheckHour, core.DefaultDailyCheckHour)
	if err != nil {
		return nil, nil, fmt.Errorf("prodsched: read %s: %w", core.ConfigDailyCheckHour, err)
	}
	minute, err := store.GetConfigInt(ctx, core.ConfigDailyCheckMinute, core.DefaultDailyCheckMinute)
	if err != nil {
		return nil, nil, fmt.Errorf("prodsched: read %s: %w", core.ConfigDailyCheckMinute, err)
	}
	delay, err := store.GetConfigInt(ctx, core.ConfigEmailSendDelay, core.DefaultEmailSendDelay)
	if err != nil {
		return nil, nil, fmt.Errorf("prodsched: read %s: %w", core.ConfigEmailSendDelay, err)
	}

	check = schedule.Daily(hour, minute, loc)
	followUp = schedule.DailyOffset(hour, minute, time.Duration(delay)*time.Minute, loc)
	return check, followUp, nil
}

// RecomputeDerived re-reads the scheduler settings and reschedules the
// daily-check job and the follow-up job derived from it. Called explicitly
// whenever those settings change; the coupling is never implicit.
func (s *Scheduler) RecomputeDerived(ctx context.Context) error {
	check, followUp, err := DerivedSchedules(ctx, s.store, s.loc)
	if err != nil {
		return err
	}
	if err := s.Reschedule(ctx, core.JobDailyCheck, check); err != nil {
		return err
	}
	return s.Reschedule(ctx, core.JobFollowUp, followUp)
}
