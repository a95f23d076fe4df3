package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/watzon/vine/internal/scheduler"
)

// Pinger is satisfied by *database.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandlers struct {
	db        Pinger
	scheduler Scheduler
	version   string
}

func NewHealthHandlers(db Pinger, s Scheduler, version string) *HealthHandlers {
	return &HealthHandlers{
		db:        db,
		scheduler: s,
		version:   version,
	}
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Latency string       `json:"latency,omitempty"`
	Message string       `json:"message,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

var startTime = time.Now()

const healthCheckTimeout = 5 * time.Second

// Health reports database reachability and the scheduler's reconciled state.
// A broken database makes the service unhealthy; a scheduler in ERROR or
// INCONSISTENT state only degrades it.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]ComponentHealth)
	overallStatus := HealthStatusHealthy

	dbHealth := h.checkDatabase(ctx)
	components["database"] = dbHealth
	if dbHealth.Status != HealthStatusHealthy {
		overallStatus = HealthStatusUnhealthy
	}

	if h.scheduler != nil {
		schedHealth := h.checkScheduler(ctx)
		components["scheduler"] = schedHealth
		if schedHealth.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	resp := HealthResponse{
		Status:     overallStatus,
		Version:    h.version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	status := http.StatusOK
	if overallStatus == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, resp)
}

func (h *HealthHandlers) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := h.db.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Latency: latency.String(),
			Message: "database ping failed",
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Latency: latency.String(),
	}
}

func (h *HealthHandlers) checkScheduler(ctx context.Context) ComponentHealth {
	view, err := h.scheduler.Status(ctx)
	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "scheduler status unavailable",
		}
	}

	switch view.Status {
	case scheduler.StateError, scheduler.StateInconsistent:
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: string(view.Status),
		}
	default:
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: string(view.Status),
		}
	}
}

func (h *HealthHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
