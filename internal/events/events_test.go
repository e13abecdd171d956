package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitReachesSubscribers(t *testing.T) {
	bus := NewBus()

	var received []*Event
	bus.Subscribe(InstrumentUpdated, func(event *Event) {
		received = append(received, event)
	})
	bus.Subscribe(InstrumentUpdated, func(event *Event) {
		received = append(received, event)
	})

	bus.Emit(InstrumentUpdated, "updater", map[string]interface{}{"ticker": "AAPL"})

	require.Len(t, received, 2, "every subscriber sees the event")
	assert.Equal(t, InstrumentUpdated, received[0].Type)
	assert.Equal(t, "updater", received[0].Module)
	assert.Equal(t, "AAPL", received[0].Data["ticker"])
}

func TestBus_EmitWithoutSubscribersIsSafe(t *testing.T) {
	bus := NewBus()

	assert.NotPanics(t, func() {
		bus.Emit(UpdateRunCompleted, "updater", nil)
	})
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	var gone, kept int
	unsubscribe := bus.Subscribe(InstrumentUpdated, func(*Event) { gone++ })
	bus.Subscribe(InstrumentUpdated, func(*Event) { kept++ })

	bus.Emit(InstrumentUpdated, "updater", nil)
	unsubscribe()
	unsubscribe() // calling twice is harmless
	bus.Emit(InstrumentUpdated, "updater", nil)

	assert.Equal(t, 1, gone, "no delivery after unsubscribe")
	assert.Equal(t, 2, kept, "other subscribers are unaffected")
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := NewBus()

	var got int
	bus.Subscribe(UpdateRunStarted, func(*Event) { got++ })

	bus.Emit(UpdateRunCompleted, "updater", nil)
	bus.Emit(UpdateRunStarted, "updater", nil)

	assert.Equal(t, 1, got, "handler only fires for its subscribed type")
}
