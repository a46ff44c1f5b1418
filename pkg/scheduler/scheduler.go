// Package scheduler implements the in-process job scheduler: named jobs with
// daily triggers, pause/resume persisted across restarts, manual firing, and
// a one-shot catch-up check after startup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timberbase/prodsched/pkg/core"
	"github.com/timberbase/prodsched/pkg/schedule"
	"github.com/timberbase/prodsched/pkg/security"
)

// Handler executes one job run. The returned summary feeds the audit log.
type Handler func(ctx context.Context) (summary string, err error)

// DefaultCatchUpDelay is how long after Start the missed-run check fires.
const DefaultCatchUpDelay = 15 * time.Second

type job struct {
	id      string
	sched   schedule.Schedule
	handler Handler

	state   core.RunState
	nextRun time.Time
	lastRun *time.Time
	running atomic.Bool
}

// Scheduler owns a set of named jobs and fires them from a single background
// loop. Handlers run on a bounded set of worker slots, never on the caller's
// goroutine; a job is never re-entered while a previous run of itself is
// still in progress.
type Scheduler struct {
	store        core.Store
	logger       *slog.Logger
	loc          *time.Location
	now          func() time.Time
	catchUpDelay time.Duration
	slots        chan struct{}

	mu      sync.RWMutex
	jobs    map[string]*job
	started bool

	cancel     context.CancelFunc
	done       chan struct{}
	catchTimer *time.Timer
	wg         sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithLocation sets the business timezone used for calendar-day decisions.
// Fixed-offset operation is assumed; trigger times must not cross DST jumps.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithWorkerSlots bounds how many distinct jobs may run simultaneously.
func WithWorkerSlots(n int) Option {
	return func(s *Scheduler) { s.slots = make(chan struct{}, security.ClampWorkerSlots(n)) }
}

// WithCatchUpDelay overrides the startup delay before the missed-run check.
func WithCatchUpDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.catchUpDelay = d }
}

// WithClock injects the time source. Tests use this; production code never
// should.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler backed by the given store.
func New(store core.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		logger:       slog.Default(),
		loc:          time.Local,
		now:          time.Now,
		catchUpDelay: DefaultCatchUpDelay,
		slots:        make(chan struct{}, 4),
		jobs:         make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a named job. A job starts Active; a persisted paused state
// is restored by Start. Registering after Start syncs the state row
// immediately.
func (s *Scheduler) Register(ctx context.Context, id string, sched schedule.Schedule, h Handler) error {
	if err := security.ValidateJobID(id); err != nil {
		return err
	}
	if sched == nil || h == nil {
		return fmt.Errorf("prodsched: job %q needs a schedule and a handler", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return core.ErrJobAlreadyExists
	}

	j := &job{
		id:      id,
		sched:   sched,
		handler: h,
		state:   core.RunStateActive,
		nextRun: sched.Next(s.now()),
	}
	s.jobs[id] = j

	if s.started {
		if err := s.restoreJobLocked(ctx, j); err != nil {
			delete(s.jobs, id)
			return err
		}
	}
	return nil
}

// restoreJobLocked loads or creates the persisted state row for one job.
// Caller holds s.mu.
func (s *Scheduler) restoreJobLocked(ctx context.Context, j *job) error {
	st, err := s.store.GetJobState(ctx, j.id)
	if err != nil {
		return fmt.Errorf("prodsched: load state for %q: %w", j.id, err)
	}
	s.applyPersistedLocked(j, st)
	return s.store.SaveJobState(ctx, j.id, j.state, &j.nextRun)
}

func (s *Scheduler) applyPersistedLocked(j *job, st *core.JobState) {
	if st == nil {
		return
	}
	if st.RunState == core.RunStatePaused {
		j.state = core.RunStatePaused
	}
	j.lastRun = st.LastRun
}

// Start restores persisted job states, launches the scheduling loop, and
// arms the catch-up check. It returns an error if the restore pass fails;
// the host then continues without a scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("prodsched: scheduler already started")
	}

	states, err := s.store.GetAllJobStates(ctx)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("prodsched: restore job states: %w", err)
	}
	for _, j := range s.jobs {
		s.applyPersistedLocked(j, states[j.id])
		// Creates the row with run-state=active on first-ever startup, so no
		// registered job is ever left without a persisted state.
		if saveErr := s.store.SaveJobState(ctx, j.id, j.state, &j.nextRun); saveErr != nil {
			s.mu.Unlock()
			return fmt.Errorf("prodsched: save state for %q: %w", j.id, saveErr)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	// The callback registers with the WaitGroup under the mutex so that Stop
	// either sees the catch-up run counted or prevents it via started=false;
	// the timer alone cannot guarantee that once it has fired.
	s.catchTimer = time.AfterFunc(s.catchUpDelay, func() {
		s.mu.Lock()
		if !s.started {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		s.runCatchUp(loopCtx)
	})
	s.mu.Unlock()

	go s.loop(loopCtx)

	s.logger.Info("scheduler started",
		"jobs", len(s.jobs),
		"catchup_delay", s.catchUpDelay,
		"timezone", s.loc.String())
	return nil
}

// Stop cancels the loop and the catch-up timer and waits for in-flight runs
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	if s.catchTimer != nil {
		s.catchTimer.Stop()
	}
	s.mu.Unlock()

	cancel()
	<-done
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue dispatches every Active job whose trigger time has arrived and
// advances its next-run time.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.state != core.RunStateActive {
			continue
		}
		if j.nextRun.After(now) {
			continue
		}
		j.nextRun = j.sched.Next(now)
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		// Advisory only; the in-memory value stays authoritative on failure.
		if err := s.store.SaveJobState(ctx, j.id, core.RunStateActive, &j.nextRun); err != nil {
			s.logger.Warn("failed to persist next run", "job_id", j.id, "error", err)
		}
		s.dispatch(ctx, j, core.TriggerScheduled)
	}
}

// dispatch runs a job on a worker slot.
func (s *Scheduler) dispatch(ctx context.Context, j *job, trigger core.RunTrigger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-ctx.Done():
			return
		}
		s.runJob(ctx, j, trigger)
	}()
}

// runJob executes one invocation under the wrapped-handler contract: panics
// and errors are contained, logged, and audited; they never stop the loop.
// Overlapping invocations of the same job coalesce to a skip.
func (s *Scheduler) runJob(ctx context.Context, j *job, trigger core.RunTrigger) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Info("previous run still in progress, skipping",
			"job_id", j.id, "trigger", trigger)
		return
	}
	defer j.running.Store(false)

	start := s.now()
	s.logger.Info("job starting", "job_id", j.id, "trigger", trigger)

	summary, err := s.invoke(ctx, j)
	if err != nil {
		s.logger.Error("job failed",
			"job_id", j.id, "trigger", trigger,
			"duration", s.now().Sub(start), "error", err)
		s.audit(ctx, j.id, trigger, false, err.Error())
		return
	}

	finished := s.now()
	s.mu.Lock()
	j.lastRun = &finished
	s.mu.Unlock()

	if upErr := s.store.UpdateLastRun(ctx, j.id, finished); upErr != nil {
		// In-memory state stays authoritative for this process lifetime; a
		// restart before a successful write risks one duplicate catch-up run,
		// which the handlers tolerate.
		s.logger.Warn("failed to persist last run", "job_id", j.id, "error", upErr)
	}
	s.audit(ctx, j.id, trigger, true, summary)

	s.logger.Info("job finished",
		"job_id", j.id, "trigger", trigger,
		"duration", finished.Sub(start), "summary", summary)
}

func (s *Scheduler) invoke(ctx context.Context, j *job) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.handler(ctx)
}

func (s *Scheduler) audit(ctx context.Context, jobID string, trigger core.RunTrigger, success bool, msg string) {
	err := s.store.AppendRunLog(ctx, &core.RunLogEntry{
		JobID:   jobID,
		Trigger: trigger,
		Success: success,
		Message: msg,
	})
	if err != nil {
		s.logger.Warn("failed to append run log", "job_id", jobID, "error", err)
	}
}

// runCatchUp fires, at most once per startup, any Active job whose trigger
// time already passed today without a run recorded for today. This recovers
// the day's run after a process that was down at its scheduled time.
func (s *Scheduler) runCatchUp(ctx context.Context) {
	now := s.now().In(s.loc)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	// Snapshot of each job's trigger spec: Reschedule swaps j.sched under
	// the lock while this check runs.
	type candidate struct {
		j     *job
		sched schedule.Schedule
	}
	s.mu.RLock()
	candidates := make([]candidate, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.state == core.RunStateActive {
			candidates = append(candidates, candidate{j: j, sched: j.sched})
		}
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, k int) bool { return candidates[i].j.id < candidates[k].j.id })

	for _, c := range candidates {
		todayTrigger := c.sched.Next(startOfDay)
		if !sameDay(todayTrigger.In(s.loc), now) || !todayTrigger.Before(now) {
			continue
		}

		st, err := s.store.GetJobState(ctx, c.j.id)
		if err != nil {
			// Without the persisted timestamp we cannot tell whether today's
			// run happened; skipping avoids a possible double fire.
			s.logger.Warn("catch-up check skipped, state unavailable",
				"job_id", c.j.id, "error", err)
			continue
		}
		if st != nil && st.LastRun != nil && sameDay(st.LastRun.In(s.loc), now) {
			continue
		}

		s.logger.Info("missed today's run, firing catch-up",
			"job_id", c.j.id, "trigger_time", todayTrigger)
		s.dispatch(ctx, c.j, core.TriggerCatchUp)
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// Pause moves a job to Paused and persists the state synchronously before
// returning. The in-memory state changes even if the write fails; the error
// is surfaced so the operator knows a restart may not preserve it.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrJobNotFound
	}
	if j.state == core.RunStatePaused {
		s.mu.Unlock()
		return core.ErrJobAlreadyPaused
	}
	j.state = core.RunStatePaused
	nextRun := j.nextRun
	s.mu.Unlock()

	s.logger.Info("job paused", "job_id", id)
	return s.store.SaveJobState(ctx, id, core.RunStatePaused, &nextRun)
}

// Resume moves a job back to Active, recomputes its next run, and persists
// both synchronously.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrJobNotFound
	}
	if j.state != core.RunStatePaused {
		s.mu.Unlock()
		return core.ErrJobNotPaused
	}
	j.state = core.RunStateActive
	j.nextRun = j.sched.Next(s.now())
	nextRun := j.nextRun
	s.mu.Unlock()

	s.logger.Info("job resumed", "job_id", id, "next_run", nextRun)
	return s.store.SaveJobState(ctx, id, core.RunStateActive, &nextRun)
}

// TriggerNow fires the handler out-of-band regardless of Active/Paused
// state. Fire-and-forget: the caller does not wait for completion, and the
// job's state is unchanged.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) error {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return core.ErrJobNotFound
	}

	s.logger.Info("manual trigger", "job_id", id)
	// The run outlives the triggering call; detaching keeps the state and
	// audit writes from being cancelled with the caller's request.
	s.dispatch(context.WithoutCancel(ctx), j, core.TriggerManual)
	return nil
}

// Reschedule swaps a job's trigger spec, recomputes the next run, and
// persists it. The Active/Paused state is unchanged.
func (s *Scheduler) Reschedule(ctx context.Context, id string, sched schedule.Schedule) error {
	if sched == nil {
		return fmt.Errorf("prodsched: job %q needs a schedule", id)
	}

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrJobNotFound
	}
	j.sched = sched
	j.nextRun = sched.Next(s.now())
	state := j.state
	nextRun := j.nextRun
	s.mu.Unlock()

	s.logger.Info("job rescheduled", "job_id", id, "next_run", nextRun)
	return s.store.SaveJobState(ctx, id, state, &nextRun)
}

// JobInfo is a read-only snapshot of one job for admin listings.
type JobInfo struct {
	ID      string        `json:"id"`
	State   core.RunState `json:"state"`
	NextRun time.Time     `json:"next_run"`
	LastRun *time.Time    `json:"last_run,omitempty"`
	Running bool          `json:"running"`
}

// Jobs returns a snapshot of all registered jobs, sorted by ID.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{
			ID:      j.id,
			State:   j.state,
			NextRun: j.nextRun,
			LastRun: j.lastRun,
			Running: j.running.Load(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, k int) bool { return infos[i].ID < infos[k].ID })
	return infos
}
