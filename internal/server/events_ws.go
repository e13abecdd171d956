package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/dkalathas/foresight/internal/events"
)

// EventsWebSocketHandler pushes update run progress events over a websocket.
type EventsWebSocketHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsWebSocketHandler creates a new websocket events handler.
func NewEventsWebSocketHandler(eventBus *events.Bus, log zerolog.Logger) *EventsWebSocketHandler {
	return &EventsWebSocketHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws requests.
func (h *EventsWebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	h.log.Info().Msg("Client connected to websocket events")

	eventChan := make(chan *events.Event, 100)
	eventHandler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Websocket event channel full, dropping event")
		}
	}
	unsubscribes := make([]func(), 0, len(streamedEventTypes))
	for _, eventType := range streamedEventTypes {
		unsubscribes = append(unsubscribes, h.eventBus.Subscribe(eventType, eventHandler))
	}
	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			h.log.Info().Msg("Client disconnected from websocket events")
			return

		case event := <-eventChan:
			payload, err := json.Marshal(event)
			if err != nil {
				h.log.Error().Err(err).Msg("Failed to marshal websocket event")
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed, closing")
				return
			}
		}
	}
}
