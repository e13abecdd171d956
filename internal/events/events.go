// Package events provides event management functionality.
package events

import (
	"sync"
	"time"
)

// EventType represents different event types
type EventType string

const (
	UpdateRunStarted   EventType = "UPDATE_RUN_STARTED"
	InstrumentUpdated  EventType = "INSTRUMENT_UPDATED"
	UpdateRunCompleted EventType = "UPDATE_RUN_COMPLETED"
	CalendarExtended   EventType = "CALENDAR_EXTENDED"
	AccuracyComputed   EventType = "ACCURACY_COMPUTED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// Event represents a system event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Handler is a subscriber callback. Handlers must not block: slow consumers
// should buffer on their own channel and drop when full.
type Handler func(event *Event)

// Bus is an in-process pub/sub bus keyed by event type.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType]map[int]Handler)}
}

// Subscribe registers a handler for an event type and returns a function
// that removes it again. Per-connection subscribers (the SSE and websocket
// streams) must call it on disconnect or their handlers pile up for the
// life of the process.
func (b *Bus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// Emit publishes an event to every handler registered for its type.
// Handlers run synchronously on the caller's goroutine, in no particular
// order.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType]))
	for _, handler := range b.handlers[eventType] {
		handlers = append(handlers, handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
