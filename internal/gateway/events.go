package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkghana/asr-gateway/internal/stt"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The web client may be served from another origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message types exchanged on /v1/events
const (
	EventState   = "state"
	EventOnline  = "online"
	EventOffline = "offline"
)

// Event is a message on the events socket. The server sends state events;
// the browser sends online/offline hints.
type Event struct {
	Type      string `json:"type"`
	State     string `json:"state,omitempty"`
	Available bool   `json:"available"`
}

func stateEvent(s stt.State) Event {
	return Event{Type: EventState, State: s.String(), Available: s == stt.StateConnected}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	states, unsubscribe := h.service.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go h.readEvents(conn, done)

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Events client connected")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeEvent(conn, stateEvent(h.service.Status().State)); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case s, ok := <-states:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := writeEvent(conn, stateEvent(s)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readEvents turns browser network events into manager signals
func (h *Handler) readEvents(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to parse event")
			continue
		}

		switch event.Type {
		case EventOnline:
			h.service.NotifyOnline()
		case EventOffline:
			h.service.NotifyOffline()
		default:
			h.logger.Debug().Str("type", event.Type).Msg("Ignoring unknown event")
		}
	}
}

func writeEvent(conn *websocket.Conn, event Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}
