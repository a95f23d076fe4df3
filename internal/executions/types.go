// Package executions persists the history of job run attempts.
package executions

import "time"

// Status represents the lifecycle state of a run attempt.
type Status string

const (
	// StatusStarted indicates the run is in progress (or was abandoned).
	StatusStarted Status = "STARTED"
	// StatusCompleted indicates the run finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the run failed or was swept as stale.
	StatusFailed Status = "FAILED"
	// StatusInterrupted indicates the process stopped while the run was in progress.
	StatusInterrupted Status = "INTERRUPTED"
)

// Terminal reports whether records in this state are immutable.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusInterrupted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusStarted || s.Terminal()
}

// Record is one run attempt of a job.
type Record struct {
	ID               int64      `json:"id"`
	JobName          string     `json:"jobName"`
	JobGroup         string     `json:"jobGroup"`
	TriggerName      string     `json:"triggerName,omitempty"`
	TriggerGroup     string     `json:"triggerGroup,omitempty"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Status           Status     `json:"status"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	RecordsProcessed *int64     `json:"recordsProcessed,omitempty"`
	DurationMs       *int64     `json:"durationMs,omitempty"`
	ProcessFromTime  *time.Time `json:"processFromTime,omitempty"`
	ProcessToTime    *time.Time `json:"processToTime,omitempty"`
}

// Filter narrows a history listing. Zero values mean "no constraint".
type Filter struct {
	JobName  string
	JobGroup string
	Since    *time.Time
	Limit    int
	Offset   int
}

// Stats aggregates the history of one job.
type Stats struct {
	Total             int64      `json:"totalExecutions"`
	Successful        int64      `json:"successfulExecutions"`
	Failed            int64      `json:"failedExecutions"`
	Running           int64      `json:"runningExecutions"`
	LastSuccessfulRun *time.Time `json:"lastSuccessfulRun,omitempty"`
	LastErrorMessage  string     `json:"lastErrorMessage,omitempty"`
}
