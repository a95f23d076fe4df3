// Package handlers implements the admin API endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/watzon/vine/internal/requestctx"
	"github.com/watzon/vine/internal/scheduler"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

const (
	defaultStartInterval = 30
	defaultHistorySize   = 20
	defaultLatestLimit   = 10
)

// Scheduler is the orchestrator surface the admin API drives.
type Scheduler interface {
	Status(ctx context.Context) (*scheduler.StatusView, error)
	Start(ctx context.Context, intervalMinutes int) (*scheduler.StatusView, error)
	Stop(ctx context.Context) (*scheduler.StatusView, error)
	Reconfigure(ctx context.Context, req scheduler.ReconfigureRequest) (*scheduler.StatusView, error)
	TriggerNow(ctx context.Context) error
	History(ctx context.Context, page, size int, days *int) (*scheduler.HistoryPage, error)
	Latest(ctx context.Context, limit int) (*scheduler.HistoryPage, error)
}

// SchedulerHandlers serves /api/v1/scheduler.
type SchedulerHandlers struct {
	scheduler Scheduler
	now       func() time.Time
}

func NewSchedulerHandlers(s Scheduler) *SchedulerHandlers {
	return &SchedulerHandlers{scheduler: s, now: time.Now}
}

// ConfigRequest is the body of PUT /scheduler/config.
type ConfigRequest struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"intervalMinutes"`
	StartFromTime   string `json:"startFromTime,omitempty"`
}

// Status handles GET /scheduler/status.
func (h *SchedulerHandlers) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.scheduler.Status(r.Context())
	if err != nil {
		FromError(w, r, err, "Failed to get scheduler status")
		return
	}
	JSON(w, http.StatusOK, view)
}

// Start handles POST /scheduler/start?intervalMinutes=N.
func (h *SchedulerHandlers) Start(w http.ResponseWriter, r *http.Request) {
	interval, ok := intParam(w, r, "intervalMinutes", defaultStartInterval)
	if !ok {
		return
	}

	view, err := h.scheduler.Start(r.Context(), interval)
	if err != nil {
		FromError(w, r, err, "Failed to start scheduler")
		return
	}
	JSON(w, http.StatusOK, view)
}

// Stop handles POST /scheduler/stop.
func (h *SchedulerHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	view, err := h.scheduler.Stop(r.Context())
	if err != nil {
		FromError(w, r, err, "Failed to stop scheduler")
		return
	}
	JSON(w, http.StatusOK, view)
}

// UpdateConfig handles PUT /scheduler/config.
func (h *SchedulerHandlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		BadRequest(w, "Invalid request body: "+err.Error())
		return
	}

	startFrom, err := scheduler.ParseStartFromTime(req.StartFromTime, h.now())
	if err != nil {
		FromError(w, r, err, "Failed to update scheduler configuration")
		return
	}

	view, err := h.scheduler.Reconfigure(r.Context(), scheduler.ReconfigureRequest{
		Enabled:         req.Enabled,
		IntervalMinutes: req.IntervalMinutes,
		StartFromTime:   startFrom,
	})
	if err != nil {
		FromError(w, r, err, "Failed to update scheduler configuration")
		return
	}
	JSON(w, http.StatusOK, view)
}

// History handles GET /scheduler/history?page&size&days.
func (h *SchedulerHandlers) History(w http.ResponseWriter, r *http.Request) {
	page, ok := intParam(w, r, "page", 0)
	if !ok {
		return
	}
	size, ok := intParam(w, r, "size", defaultHistorySize)
	if !ok {
		return
	}

	var days *int
	if r.URL.Query().Get("days") != "" {
		d, ok := intParam(w, r, "days", 0)
		if !ok {
			return
		}
		days = &d
	}

	result, err := h.scheduler.History(r.Context(), page, size, days)
	if err != nil {
		FromError(w, r, err, "Failed to get job history")
		return
	}
	JSON(w, http.StatusOK, result)
}

// Latest handles GET /scheduler/history/latest?limit.
func (h *SchedulerHandlers) Latest(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultLatestLimit)
	if !ok {
		return
	}

	result, err := h.scheduler.Latest(r.Context(), limit)
	if err != nil {
		FromError(w, r, err, "Failed to get latest job executions")
		return
	}
	JSON(w, http.StatusOK, result)
}

// RunNow handles POST /scheduler/run-now. It answers in plain text.
func (h *SchedulerHandlers) RunNow(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.TriggerNow(r.Context()); err != nil {
		status, _ := Classify(err)
		requestctx.Logger(r.Context()).Error().Err(err).Int("status", status).Msg("Error triggering job manually")
		Text(w, status, "Failed to trigger job: "+err.Error())
		return
	}
	Text(w, http.StatusAccepted, "Job triggered successfully")
}

// intParam reads an integer query parameter, writing a 400 when it is not a
// number. Missing parameters yield def.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		BadRequest(w, name+" must be an integer")
		return 0, false
	}
	return v, true
}
