package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/events"
	"github.com/watzon/vine/internal/metrics"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// EventsHandler streams scheduler and execution events over WebSocket.
type EventsHandler struct {
	bus            *events.EventBus
	originPatterns []string
}

func NewEventsHandler(bus *events.EventBus, originPatterns []string) *EventsHandler {
	return &EventsHandler{bus: bus, originPatterns: originPatterns}
}

// HandleWebSocket upgrades the connection and forwards every published event
// as a JSON text message until the client goes away. Clients that cannot keep
// up lose events rather than slowing publishers down.
func (h *EventsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to accept WebSocket connection")
		return
	}
	defer conn.CloseNow()

	stream := h.bus.Stream()
	metrics.UpdateEventStreams(h.bus.StreamCount())
	defer func() {
		stream.Close()
		metrics.UpdateEventStreams(h.bus.StreamCount())
	}()

	// The client never sends data; CloseRead handles control frames and
	// cancels ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())

	log.Debug().Str("remote_addr", r.RemoteAddr).Msg("Event stream client connected")

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("remote_addr", r.RemoteAddr).
				Int64("dropped", stream.Dropped()).
				Msg("Event stream client disconnected")
			return
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case event, ok := <-stream.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event bus closed")
				return
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				log.Debug().Err(err).Msg("Failed to write event")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
