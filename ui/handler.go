// Package ui exposes the admin and dashboard HTTP API for the scheduler
// core: job listings and controls, the manual renumber action, queue
// statistics, and the audit-log read path.
package ui

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timberbase/prodsched/pkg/core"
	"github.com/timberbase/prodsched/pkg/renumber"
	"github.com/timberbase/prodsched/pkg/schedule"
	"github.com/timberbase/prodsched/pkg/scheduler"
)

const (
	defaultRunLogLimit = 50
	maxRunLogLimit     = 500
)

// Handler serves the admin API. The scheduler may be nil: worker processes
// that lost the single-instance arbitration still serve the read-only and
// manual-renumber endpoints.
type Handler struct {
	store  core.Store
	calc   *renumber.Calculator
	sched  *scheduler.Scheduler
	loc    *time.Location
	logger *slog.Logger
}

// NewHandler creates the admin API handler. sched may be nil.
func NewHandler(store core.Store, calc *renumber.Calculator, sched *scheduler.Scheduler, loc *time.Location, logger *slog.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, calc: calc, sched: sched, loc: loc, logger: logger}
}

// RegisterRoutes mounts all endpoints on the given engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	{
		api.GET("/jobs", h.ListJobs)
		api.POST("/jobs/:id/pause", h.PauseJob)
		api.POST("/jobs/:id/resume", h.ResumeJob)
		api.POST("/jobs/:id/trigger", h.TriggerJob)
		api.POST("/jobs/:id/reschedule", h.RescheduleJob)

		api.POST("/production/renumber", h.Renumber)
		api.GET("/production/stats", h.Stats)

		api.GET("/runlog", h.RunLog)
		api.PUT("/config/schedule", h.UpdateScheduleConfig)
	}
}

// Health reports liveness and whether this process owns the scheduler.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"scheduler_owner": h.sched != nil,
	})
}

// requireScheduler guards endpoints that need the live scheduler instance.
func (h *Handler) requireScheduler(c *gin.Context) bool {
	if h.sched == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "scheduler not running in this process",
		})
		return false
	}
	return true
}

// ListJobs returns every registered job with its state and run times.
func (h *Handler) ListJobs(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": h.sched.Jobs()})
}

// PauseJob moves a job to Paused.
func (h *Handler) PauseJob(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}
	id := c.Param("id")
	if err := h.sched.Pause(c.Request.Context(), id); err != nil {
		h.jobError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "state": core.RunStatePaused})
}

// ResumeJob moves a paused job back to Active.
func (h *Handler) ResumeJob(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}
	id := c.Param("id")
	if err := h.sched.Resume(c.Request.Context(), id); err != nil {
		h.jobError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "state": core.RunStateActive})
}

// TriggerJob fires a job immediately, out of band. Fire-and-forget: the
// response does not wait for the run to finish.
func (h *Handler) TriggerJob(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}
	id := c.Param("id")
	if err := h.sched.TriggerNow(c.Request.Context(), id); err != nil {
		h.jobError(c, id, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "triggered": true})
}

type rescheduleRequest struct {
	Hour   *int `json:"hour" binding:"required,min=0,max=23"`
	Minute *int `json:"minute" binding:"required,min=0,max=59"`
}

// RescheduleJob changes a job's daily trigger time.
func (h *Handler) RescheduleJob(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	sched := schedule.Daily(*req.Hour, *req.Minute, h.loc)
	if err := h.sched.Reschedule(c.Request.Context(), id, sched); err != nil {
		h.jobError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "hour": *req.Hour, "minute": *req.Minute})
}

// Renumber runs the priority calculator synchronously ("run now" admin
// action) and returns its summary.
func (h *Handler) Renumber(c *gin.Context) {
	result, err := h.calc.Renumber(c.Request.Context())
	if err != nil {
		h.logger.Error("manual renumber failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Stats returns the production-queue dashboard view.
func (h *Handler) Stats(c *gin.Context) {
	topN, _ := strconv.Atoi(c.DefaultQuery("top", "0"))
	stats, err := h.calc.Stats(c.Request.Context(), topN)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RunLog returns the most recent audit records.
func (h *Handler) RunLog(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunLogLimit)))
	if err != nil || limit <= 0 {
		limit = defaultRunLogLimit
	}
	if limit > maxRunLogLimit {
		limit = maxRunLogLimit
	}

	entries, err := h.store.GetRunLog(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type scheduleConfigRequest struct {
	Hour         *int `json:"hour" binding:"required,min=0,max=23"`
	Minute       *int `json:"minute" binding:"required,min=0,max=59"`
	DelayMinutes *int `json:"delay_minutes" binding:"required,min=0,max=1439"`
}

// UpdateScheduleConfig persists the daily-check time and follow-up delay,
// then explicitly recomputes the derived job schedules.
func (h *Handler) UpdateScheduleConfig(c *gin.Context) {
	var req scheduleConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	updates := map[string]int{
		core.ConfigDailyCheckHour:   *req.Hour,
		core.ConfigDailyCheckMinute: *req.Minute,
		core.ConfigEmailSendDelay:   *req.DelayMinutes,
	}
	for key, value := range updates {
		if err := h.store.SetConfigInt(ctx, key, value); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	if h.sched != nil {
		if err := h.sched.RecomputeDerived(ctx); err != nil {
			h.logger.Error("failed to recompute derived schedules", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"hour":          *req.Hour,
		"minute":        *req.Minute,
		"delay_minutes": *req.DelayMinutes,
	})
}

func (h *Handler) jobError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrJobAlreadyPaused), errors.Is(err, core.ErrJobNotPaused):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("job operation failed", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
