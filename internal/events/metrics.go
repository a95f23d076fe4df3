package events

import (
	"context"

	"github.com/watzon/vine/internal/metrics"
)

// RecordMetrics subscribes a handler that counts every scheduler and
// execution event by type and action.
func (bus *EventBus) RecordMetrics() {
	for _, typ := range []EventType{EventTypeScheduler, EventTypeExecution} {
		bus.Subscribe(typ, "*", "*", func(_ context.Context, event *Event) error {
			metrics.RecordEvent(string(event.Type), event.Action)
			return nil
		})
	}
}
