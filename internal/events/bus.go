package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// DefaultStreamBuffer is the per-stream channel size used when none is given.
const DefaultStreamBuffer = 64

// EventBus dispatches events to registered handlers and open streams.
// Handlers run synchronously in Publish; streams receive events without
// blocking the publisher and drop them when their buffer is full.
type EventBus struct {
	subscribers map[string][]EventHandler // key: "type:source:action"
	streams     map[uint64]*Stream
	nextStream  uint64
	bufferSize  int
	mu          sync.RWMutex
}

// NewEventBus creates a new event bus.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = DefaultStreamBuffer
	}
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		streams:     make(map[uint64]*Stream),
		bufferSize:  bufferSize,
	}
}

// Publish assigns an ID and timestamp to the event and delivers it. The last
// handler error, if any, is returned after every handler has run.
func (bus *EventBus) Publish(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var handlerErr error
	for _, handler := range bus.findHandlers(event) {
		if err := handler(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Msg("Handler failed")
			handlerErr = err
		}
	}

	bus.mu.RLock()
	for _, s := range bus.streams {
		s.offer(event)
	}
	bus.mu.RUnlock()

	log.Debug().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Str("source", event.Source).
		Str("action", event.Action).
		Msg("Event published")

	return handlerErr
}

// Subscribe registers a handler for events matching the pattern.
// Use "*" for source or action to match all.
func (bus *EventBus) Subscribe(eventType EventType, source, action string, handler EventHandler) {
	key := makeKey(eventType, source, action)

	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.subscribers[key] = append(bus.subscribers[key], handler)

	log.Debug().
		Str("type", string(eventType)).
		Str("source", source).
		Str("action", action).
		Msg("Handler subscribed")
}

// Stream opens a buffered feed of every published event. Close it when done.
func (bus *EventBus) Stream() *Stream {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.nextStream++
	ch := make(chan *Event, bus.bufferSize)
	s := &Stream{
		C:   ch,
		ch:  ch,
		id:  bus.nextStream,
		bus: bus,
	}
	bus.streams[s.id] = s
	return s
}

// StreamCount returns the number of open streams.
func (bus *EventBus) StreamCount() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.streams)
}

// findHandlers finds all handlers matching the event.
func (bus *EventBus) findHandlers(event *Event) []EventHandler {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	var handlers []EventHandler
	for _, key := range []string{
		makeKey(event.Type, event.Source, event.Action),
		makeKey(event.Type, "*", event.Action),
		makeKey(event.Type, event.Source, "*"),
		makeKey(event.Type, "*", "*"),
	} {
		handlers = append(handlers, bus.subscribers[key]...)
	}

	return handlers
}

func makeKey(eventType EventType, source, action string) string {
	return fmt.Sprintf("%s:%s:%s", eventType, source, action)
}

// Stream is a subscription returned by EventBus.Stream.
type Stream struct {
	C <-chan *Event

	ch      chan *Event
	id      uint64
	bus     *EventBus
	dropped atomic.Int64
	once    sync.Once
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Close unregisters the stream and closes its channel.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.streams, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// offer is called with the bus read lock held, so Close cannot race the send.
func (s *Stream) offer(event *Event) {
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}
