// Package engine is an in-process scheduling engine. Jobs are durable
// definitions that exist without triggers; repeating triggers fire a job's
// bound function on a bounded worker pool.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ManualTriggerGroup is the trigger group of fires requested with TriggerNow.
const ManualTriggerGroup = "MANUAL_TRIGGER"

var (
	// ErrNotStarted is returned by every scheduling call made before Start.
	ErrNotStarted = errors.New("scheduling engine not started")
	// ErrJobNotRegistered is returned when no durable job definition exists.
	ErrJobNotRegistered = errors.New("job not registered")
	// ErrNoHandler is returned when a job has no function bound with Handle.
	ErrNoHandler = errors.New("no handler bound to job")
)

// JobKey identifies a job definition.
type JobKey struct {
	Name  string
	Group string
}

func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// TriggerKey identifies a trigger.
type TriggerKey struct {
	Name  string
	Group string
}

func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}

// Fire describes a single invocation of a job.
type Fire struct {
	Job     JobKey
	Trigger TriggerKey
	FiredAt time.Time
	Manual  bool
}

// JobFunc is the code bound to a job.
type JobFunc func(ctx context.Context, fire Fire) error

// TriggerState mirrors the externally visible state of a trigger.
type TriggerState string

const (
	TriggerStateNone    TriggerState = "NONE"
	TriggerStateNormal  TriggerState = "NORMAL"
	TriggerStateBlocked TriggerState = "BLOCKED"
)

// TriggerInfo is a snapshot of one trigger.
type TriggerInfo struct {
	Exists       bool
	State        TriggerState
	Interval     time.Duration
	NextFireTime *time.Time
	LastFireTime *time.Time
	FireCount    int64
}

// Options configures an Engine.
type Options struct {
	// Workers bounds how many jobs run at once (default: 10).
	Workers int
	// Now overrides the clock used for fire timestamps.
	Now func() time.Time
}
