// Package scheduler reconciles the persisted schedule configuration with the
// scheduling engine and runs the booking processor on every fire.
package scheduler

import (
	"context"
	"time"

	"github.com/watzon/vine/internal/engine"
	"github.com/watzon/vine/internal/executions"
)

// Well-known identities of the recurring booking job.
const (
	JobName      = "bookingProcessorJob"
	JobGroup     = "vine-group"
	TriggerName  = "bookingProcessorTrigger"
	TriggerGroup = "vine-group"
	ConfigName   = "booking-processor"
)

// Config is the persisted singleton schedule configuration.
type Config struct {
	ID              int64      `json:"id"`
	Name            string     `json:"configName"`
	Enabled         bool       `json:"enabled"`
	IntervalMinutes int        `json:"intervalMinutes"`
	StartFromTime   *time.Time `json:"startFromTime,omitempty"`
	StartFromSetAt  *time.Time `json:"startFromSetAt,omitempty"`
	LastRunTime     *time.Time `json:"lastRunTime,omitempty"`
	NextRunTime     *time.Time `json:"nextRunTime,omitempty"`
	LastStartTime   *time.Time `json:"lastStartTime,omitempty"`
	LastStopTime    *time.Time `json:"lastStopTime,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// RunState is the derived lifecycle state reported by Status.
type RunState string

const (
	StateRunning      RunState = "RUNNING"
	StateStopped      RunState = "STOPPED"
	StateInconsistent RunState = "INCONSISTENT"
	StateError        RunState = "ERROR"
)

// StatusView is the reconciled picture of the schedule.
type StatusView struct {
	JobName         string     `json:"jobName"`
	JobGroup        string     `json:"jobGroup"`
	Enabled         bool       `json:"enabled"`
	Running         bool       `json:"running"`
	Status          RunState   `json:"status"`
	IntervalMinutes int        `json:"intervalMinutes"`
	LastStartTime   *time.Time `json:"lastStartTime,omitempty"`
	LastStopTime    *time.Time `json:"lastStopTime,omitempty"`
	LastRunTime     *time.Time `json:"lastRunTime,omitempty"`
	NextRunTime     *time.Time `json:"nextRunTime,omitempty"`
	NextFireTime    *time.Time `json:"nextFireTime,omitempty"`
	StartFromTime   *time.Time `json:"startFromTime,omitempty"`
	NextWindowStart *time.Time `json:"nextWindowStart,omitempty"`
	TriggerState    string     `json:"triggerState"`

	TotalExecutions      int64      `json:"totalExecutions"`
	SuccessfulExecutions int64      `json:"successfulExecutions"`
	FailedExecutions     int64      `json:"failedExecutions"`
	RunningExecutions    int64      `json:"runningExecutions"`
	LastSuccessfulRun    *time.Time `json:"lastSuccessfulRun,omitempty"`
	LastErrorMessage     string     `json:"lastErrorMessage,omitempty"`
}

// ReconfigureRequest is the administrator's desired schedule.
type ReconfigureRequest struct {
	Enabled         bool
	IntervalMinutes int
	// StartFromTime, when set, overrides the processing watermark.
	StartFromTime *time.Time
}

// HistoryPage is one page of execution history, most recent first.
type HistoryPage struct {
	Executions []*executions.Record `json:"executions"`
	TotalCount int64                `json:"totalCount"`
	Page       int                  `json:"page"`
	Size       int                  `json:"size"`
}

// Engine is the subset of the scheduling engine the orchestrator drives.
type Engine interface {
	Start(ctx context.Context) error
	Handle(job engine.JobKey, fn engine.JobFunc)
	EnsureJobRegistered(ctx context.Context, job engine.JobKey, description string) error
	ScheduleRepeating(ctx context.Context, key engine.TriggerKey, job engine.JobKey, interval time.Duration) (time.Time, error)
	Unschedule(ctx context.Context, key engine.TriggerKey) (bool, error)
	TriggerNow(ctx context.Context, job engine.JobKey) (engine.TriggerKey, error)
	TriggerStatus(ctx context.Context, key engine.TriggerKey) (engine.TriggerInfo, error)
}

// HistoryStore records run attempts.
type HistoryStore interface {
	Create(ctx context.Context, rec *executions.Record) (int64, error)
	Update(ctx context.Context, id int64, fn func(*executions.Record)) (bool, error)
	List(ctx context.Context, f executions.Filter) ([]*executions.Record, int64, error)
	LastCompleted(ctx context.Context, jobName, jobGroup string) (*executions.Record, error)
	Stats(ctx context.Context, jobName, jobGroup string) (*executions.Stats, error)
	MarkAbandoned(ctx context.Context, cutoff time.Time, status executions.Status, message string, now time.Time) ([]*executions.Record, error)
}

// Processor does the work for one window and reports how many records it
// handled. It must tolerate being called again for an overlapping window.
type Processor interface {
	Process(ctx context.Context, from, to time.Time) (int64, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, from, to time.Time) (int64, error)

func (f ProcessorFunc) Process(ctx context.Context, from, to time.Time) (int64, error) {
	return f(ctx, from, to)
}
