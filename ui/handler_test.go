package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/timberbase/prodsched/pkg/core"
	"github.com/timberbase/prodsched/pkg/renumber"
	"github.com/timberbase/prodsched/pkg/scheduler"
	"github.com/timberbase/prodsched/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	store *storage.GormStore
	sched *scheduler.Scheduler
	srv   *gin.Engine
}

var testDBSeq atomic.Int64

func newTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	// Uniquely named shared-cache database: every pooled connection sees the
	// same tables, tests stay isolated from each other.
	dsn := fmt.Sprintf("file:ui_test_%d?mode=memory&cache=shared&_busy_timeout=5000",
		testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewGormStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.SeedConfigDefaults(context.Background()))
	return store
}

// newEnv wires a full API against an in-memory store. withScheduler=false
// models a worker process that lost the single-instance arbitration.
func newEnv(t *testing.T, withScheduler bool) *testEnv {
	t.Helper()
	store := newTestStore(t)
	calc := renumber.New(store, renumber.WithGroupOrder([]string{"rush", "standard"}))

	var sched *scheduler.Scheduler
	if withScheduler {
		sched = scheduler.New(store,
			scheduler.WithLocation(time.UTC),
			scheduler.WithCatchUpDelay(time.Hour))
		ctx := context.Background()
		require.NoError(t, sched.Register(ctx, core.JobRenumber, scheduler.RenumberTrigger(time.UTC), calc.RunJob))
		check, followUp, err := scheduler.DerivedSchedules(ctx, store, time.UTC)
		require.NoError(t, err)
		noop := func(ctx context.Context) (string, error) { return "ok", nil }
		require.NoError(t, sched.Register(ctx, core.JobDailyCheck, check, noop))
		require.NoError(t, sched.Register(ctx, core.JobFollowUp, followUp, noop))
	}

	h := NewHandler(store, calc, sched, time.UTC, nil)
	srv := gin.New()
	h.RegisterRoutes(srv)
	return &testEnv{store: store, sched: sched, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func seedPending(t *testing.T, store *storage.GormStore, name, group string, score int) {
	t.Helper()
	require.NoError(t, store.DB().Create(&core.ProductionItem{
		Name:          name,
		PriorityGroup: group,
		Score:         score,
		Status:        core.ItemPending,
	}).Error)
}

func TestHealth_ReportsOwnership(t *testing.T) {
	owner := newEnv(t, true)
	w := owner.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["scheduler_owner"])

	worker := newEnv(t, false)
	w = worker.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["scheduler_owner"])
}

func TestSchedulerEndpointsUnavailableWithoutOwnership(t *testing.T) {
	env := newEnv(t, false)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/jobs"},
		{http.MethodPost, "/api/jobs/daily-check/pause"},
		{http.MethodPost, "/api/jobs/daily-check/resume"},
		{http.MethodPost, "/api/jobs/daily-check/trigger"},
	} {
		w := env.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestListJobs(t *testing.T) {
	env := newEnv(t, true)
	w := env.do(t, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs []scheduler.JobInfo `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 3)
	assert.Equal(t, core.JobDailyCheck, resp.Jobs[0].ID)
	assert.Equal(t, core.JobFollowUp, resp.Jobs[1].ID)
	assert.Equal(t, core.JobRenumber, resp.Jobs[2].ID)
}

func TestPauseAndResumeJob(t *testing.T) {
	env := newEnv(t, true)

	w := env.do(t, http.MethodPost, "/api/jobs/daily-check/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(core.RunStatePaused), decode(t, w)["state"])

	// Pausing twice conflicts.
	w = env.do(t, http.MethodPost, "/api/jobs/daily-check/pause", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/jobs/daily-check/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(core.RunStateActive), decode(t, w)["state"])

	// Resuming an active job conflicts too.
	w = env.do(t, http.MethodPost, "/api/jobs/daily-check/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestJobOperations_UnknownJob(t *testing.T) {
	env := newEnv(t, true)
	for _, path := range []string{
		"/api/jobs/no-such-job/pause",
		"/api/jobs/no-such-job/resume",
		"/api/jobs/no-such-job/trigger",
	} {
		w := env.do(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestTriggerJob_Accepted(t *testing.T) {
	env := newEnv(t, true)
	require.NoError(t, env.sched.Start(context.Background()))
	defer env.sched.Stop()

	w := env.do(t, http.MethodPost, "/api/jobs/production-renumber/trigger", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["triggered"])
}

func TestRescheduleJob(t *testing.T) {
	env := newEnv(t, true)

	w := env.do(t, http.MethodPost, "/api/jobs/daily-check/reschedule",
		`{"hour": 9, "minute": 30}`)
	require.Equal(t, http.StatusOK, w.Code)

	for _, j := range env.sched.Jobs() {
		if j.ID == core.JobDailyCheck {
			assert.Equal(t, 9, j.NextRun.In(time.UTC).Hour())
			assert.Equal(t, 30, j.NextRun.In(time.UTC).Minute())
		}
	}
}

func TestRescheduleJob_ValidatesBody(t *testing.T) {
	env := newEnv(t, true)

	for _, body := range []string{
		`{}`,
		`{"hour": 24, "minute": 0}`,
		`{"hour": 9, "minute": 60}`,
		`{"minute": 30}`,
		`not json`,
	} {
		w := env.do(t, http.MethodPost, "/api/jobs/daily-check/reschedule", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
	}
}

func TestRescheduleJob_MidnightIsValid(t *testing.T) {
	env := newEnv(t, true)
	w := env.do(t, http.MethodPost, "/api/jobs/daily-check/reschedule",
		`{"hour": 0, "minute": 0}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRenumber_WorksWithoutScheduler(t *testing.T) {
	env := newEnv(t, false)
	seedPending(t, env.store, "oak table", "rush", 0)
	seedPending(t, env.store, "pine shelf", "standard", 0)

	w := env.do(t, http.MethodPost, "/api/production/renumber", "")
	require.Equal(t, http.StatusOK, w.Code)

	var result renumber.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.TotalPending)
	assert.Equal(t, 2, result.Renumbered)
}

func TestStats(t *testing.T) {
	env := newEnv(t, false)
	seedPending(t, env.store, "a", "rush", 10)
	seedPending(t, env.store, "b", "rush", 20)
	seedPending(t, env.store, "c", "standard", 30)

	w := env.do(t, http.MethodGet, "/api/production/stats?top=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats renumber.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats.QueueLength)
	assert.EqualValues(t, 2, stats.PerGroup["rush"])
	require.Len(t, stats.TopItems, 2)
	assert.Equal(t, "a", stats.TopItems[0].Name)
}

func TestRunLog(t *testing.T) {
	env := newEnv(t, false)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, env.store.AppendRunLog(ctx, &core.RunLogEntry{
			JobID:   core.JobRenumber,
			Trigger: core.TriggerScheduled,
			Success: true,
			Message: "ok",
		}))
	}

	w := env.do(t, http.MethodGet, "/api/runlog?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []core.RunLogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 2)
}

func TestUpdateScheduleConfig(t *testing.T) {
	env := newEnv(t, true)

	w := env.do(t, http.MethodPut, "/api/config/schedule",
		`{"hour": 9, "minute": 15, "delay_minutes": 30}`)
	require.Equal(t, http.StatusOK, w.Code)

	ctx := context.Background()
	hour, err := env.store.GetConfigInt(ctx, core.ConfigDailyCheckHour, -1)
	require.NoError(t, err)
	assert.Equal(t, 9, hour)
	delay, err := env.store.GetConfigInt(ctx, core.ConfigEmailSendDelay, -1)
	require.NoError(t, err)
	assert.Equal(t, 30, delay)

	// The follow-up trigger moves with the new check time plus delay.
	for _, j := range env.sched.Jobs() {
		if j.ID == core.JobFollowUp {
			assert.Equal(t, 9, j.NextRun.In(time.UTC).Hour())
			assert.Equal(t, 45, j.NextRun.In(time.UTC).Minute())
		}
	}
}

func TestUpdateScheduleConfig_PersistsWithoutScheduler(t *testing.T) {
	env := newEnv(t, false)

	w := env.do(t, http.MethodPut, "/api/config/schedule",
		`{"hour": 7, "minute": 0, "delay_minutes": 120}`)
	require.Equal(t, http.StatusOK, w.Code)

	hour, err := env.store.GetConfigInt(context.Background(), core.ConfigDailyCheckHour, -1)
	require.NoError(t, err)
	assert.Equal(t, 7, hour)
}

func TestUpdateScheduleConfig_ValidatesBody(t *testing.T) {
	env := newEnv(t, true)
	for _, body := range []string{
		`{}`,
		`{"hour": 9, "minute": 0}`,
		`{"hour": 9, "minute": 0, "delay_minutes": 1440}`,
	} {
		w := env.do(t, http.MethodPut, "/api/config/schedule", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
	}
}
