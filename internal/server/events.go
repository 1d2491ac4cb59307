package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chargeamps/internal/coordinator"
)

// EventSnapshot is the kind of the first event on a stream, carrying the
// snapshot at connect time.
const EventSnapshot coordinator.UpdateKind = "snapshot"

const (
	eventBuffer  = 16
	writeTimeout = 10 * time.Second
)

// Event is one websocket message on /api/v1/events
type Event struct {
	Kind         coordinator.UpdateKind `json:"kind"`
	At           time.Time              `json:"at"`
	Error        string                 `json:"error,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	ChargePoints coordinator.Snapshot   `json:"chargePoints"`
}

func newEvent(u coordinator.Update) Event {
	ev := Event{Kind: u.Kind, At: u.At, ChargePoints: u.Snapshot}
	if u.Err != nil {
		ev.Error = u.Err.Error()
	}
	for _, w := range u.Warnings {
		ev.Warnings = append(ev.Warnings, w.Error())
	}
	return ev
}

// handleEvents streams coordinator updates to a websocket client. A client
// that reads too slowly misses updates instead of stalling the coordinator.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade event stream")
		return
	}
	defer conn.Close()

	updates, cancel := s.coordinator.Subscribe(eventBuffer)
	defer cancel()

	logger := log.With().Str("remote_addr", r.RemoteAddr).Logger()
	logger.Info().Msg("Event stream client connected")

	// Reads only drive control frames; any error means the client is gone
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug().Err(err).Msg("Event stream write failed")
			return false
		}
		return true
	}

	if !send(Event{Kind: EventSnapshot, At: time.Now(), ChargePoints: s.coordinator.Snapshot()}) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			logger.Info().Msg("Event stream client disconnected")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if !send(newEvent(u)) {
				return
			}
		}
	}
}
