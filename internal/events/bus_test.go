package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishAssignsIdentity(t *testing.T) {
	bus := NewEventBus(0)

	event := &Event{Type: EventTypeScheduler, Source: "booking-processor", Action: ActionStarted}
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
}

func TestEventBus_SubscribeWildcards(t *testing.T) {
	bus := NewEventBus(0)
	ctx := context.Background()

	var exact, anySource, anyAction, all, other int
	bus.Subscribe(EventTypeExecution, "bookingProcessorJob", ActionCompleted, func(context.Context, *Event) error {
		exact++
		return nil
	})
	bus.Subscribe(EventTypeExecution, "*", ActionCompleted, func(context.Context, *Event) error {
		anySource++
		return nil
	})
	bus.Subscribe(EventTypeExecution, "bookingProcessorJob", "*", func(context.Context, *Event) error {
		anyAction++
		return nil
	})
	bus.Subscribe(EventTypeExecution, "*", "*", func(context.Context, *Event) error {
		all++
		return nil
	})
	bus.Subscribe(EventTypeScheduler, "*", "*", func(context.Context, *Event) error {
		other++
		return nil
	})

	require.NoError(t, bus.Publish(ctx, &Event{Type: EventTypeExecution, Source: "bookingProcessorJob", Action: ActionCompleted}))
	require.NoError(t, bus.Publish(ctx, &Event{Type: EventTypeExecution, Source: "otherJob", Action: ActionFailed}))

	assert.Equal(t, 1, exact)
	assert.Equal(t, 1, anySource)
	assert.Equal(t, 1, anyAction)
	assert.Equal(t, 2, all)
	assert.Equal(t, 0, other)
}

func TestEventBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewEventBus(0)

	boom := errors.New("boom")
	var called bool
	bus.Subscribe(EventTypeScheduler, "*", "*", func(context.Context, *Event) error {
		return boom
	})
	bus.Subscribe(EventTypeScheduler, "*", "*", func(context.Context, *Event) error {
		called = true
		return nil
	})

	err := bus.Publish(context.Background(), &Event{Type: EventTypeScheduler, Action: ActionStopped})
	assert.ErrorIs(t, err, boom)
	assert.True(t, called)
}

func TestEventBus_Stream(t *testing.T) {
	bus := NewEventBus(4)
	s := bus.Stream()
	assert.Equal(t, 1, bus.StreamCount())

	require.NoError(t, bus.Publish(context.Background(), &Event{Type: EventTypeScheduler, Action: ActionStarted}))

	got := <-s.C
	require.NotNil(t, got)
	assert.Equal(t, ActionStarted, got.Action)

	s.Close()
	s.Close()
	assert.Equal(t, 0, bus.StreamCount())

	_, ok := <-s.C
	assert.False(t, ok)

	// Publishing after close must not panic.
	require.NoError(t, bus.Publish(context.Background(), &Event{Type: EventTypeScheduler, Action: ActionStopped}))
}

func TestEventBus_StreamDropsWhenFull(t *testing.T) {
	bus := NewEventBus(2)
	s := bus.Stream()
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), &Event{Type: EventTypeExecution, Action: ActionTriggered}))
	}

	assert.Len(t, s.C, 2)
	assert.Equal(t, int64(3), s.Dropped())
}
