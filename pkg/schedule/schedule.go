// Package schedule defines trigger specifications for scheduled jobs.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule defines when a job should run next.
type Schedule interface {
	// Next returns the first trigger time strictly after from.
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// dailySchedule runs at a specific time each day in a fixed location.
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a schedule that runs at a specific time each day.
// A nil location means UTC. The location is assumed to be the fixed business
// timezone; trigger times that cross a DST jump are not supported.
func Daily(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return &dailySchedule{hour: hour, minute: minute, loc: loc}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// DailyOffset creates a daily schedule derived from a base hour:minute plus
// a delay, normalized within the day. Used for triggers that follow another
// job's time by a configured gap.
func DailyOffset(hour, minute int, delay time.Duration, loc *time.Location) Schedule {
	total := time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + delay
	total %= 24 * time.Hour
	return Daily(int(total/time.Hour), int(total%time.Hour/time.Minute), loc)
}

// cronSchedule wraps a cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

// Cron creates a schedule from a standard five-field cron expression.
// It returns an error instead of panicking so operator-supplied expressions
// can be rejected at the admin boundary.
func Cron(expr string) (Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &cronSchedule{schedule: sched}, nil
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}
