// Package events provides in-process publication of scheduler activity.
package events

import "time"

// EventType represents the type of event.
type EventType string

const (
	// EventTypeScheduler covers lifecycle changes of the recurring trigger.
	EventTypeScheduler EventType = "scheduler"
	// EventTypeExecution covers individual run attempts.
	EventTypeExecution EventType = "execution"
)

// Actions published by the scheduler.
const (
	ActionStarted      = "started"
	ActionStopped      = "stopped"
	ActionReconfigured = "reconfigured"
	ActionTriggered    = "triggered"
	ActionCompleted    = "completed"
	ActionFailed       = "failed"
	ActionSwept        = "swept"
	ActionInterrupted  = "interrupted"
)

// Event is a single notification on the bus.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	Action    string    `json:"action"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
