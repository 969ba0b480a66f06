package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/plantwatch/console/internal/models"
)

// WebSocket message types for the dashboard stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeSnapshot  = "snapshot"
	MsgTypePong      = "pong"
)

const writeWait = 5 * time.Second

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SnapshotPayload is sent on every dashboard update.
type SnapshotPayload struct {
	State     string                 `json:"state"`
	Transport string                 `json:"transport,omitempty"`
	Machines  []models.MachineStatus `json:"machines"`
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// CORS is enforced by middleware
			return true
		},
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
	}
}

// HandleDashboardStream upgrades the connection and relays every snapshot of
// the session's dashboard engine until the view disconnects or the dashboard
// is unmounted.
func (h *Handler) HandleDashboardStream(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	engine, err := s.Dashboard()
	if err != nil {
		return FromDomainError(err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	if h.maxMessageSize > 0 {
		ws.SetReadLimit(h.maxMessageSize)
	}

	updates, cancel := engine.Subscribe()
	defer cancel()

	log := h.log.With().Str("session", s.ID()).Logger()
	log.Debug().Msg("dashboard stream connected")

	// Reader: the view only sends pings. A read error ends the stream.
	pings := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("dashboard stream read")
				}
				return
			}
			if msg.Type == MsgTypePing {
				select {
				case pings <- msg.ID:
				default:
				}
			}
		}
	}()

	if err := h.send(ws, MsgTypeConnected, "", nil); err != nil {
		return nil
	}

	for {
		select {
		case <-done:
			log.Debug().Msg("dashboard stream disconnected")
			return nil

		case id := <-pings:
			if err := h.send(ws, MsgTypePong, id, nil); err != nil {
				return nil
			}

		case machines, ok := <-updates:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "dashboard unmounted"),
					time.Now().Add(writeWait))
				return nil
			}
			payload := SnapshotPayload{
				State:     string(engine.State()),
				Transport: engine.Transport(),
				Machines:  machines,
			}
			if err := h.send(ws, MsgTypeSnapshot, "", payload); err != nil {
				return nil
			}
		}
	}
}

// send writes one message. Only the stream's main loop writes.
func (h *Handler) send(ws *websocket.Conn, msgType, id string, payload any) error {
	msg := WSMessage{Type: msgType, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = raw
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(msg)
}
