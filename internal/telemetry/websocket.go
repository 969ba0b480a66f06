package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport connects with gorilla/websocket.
type WebSocketTransport struct {
	Dialer         *websocket.Dialer
	MaxMessageSize int64
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		MaxMessageSize: 1 << 20,
	}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Connect(ctx context.Context, endpoint string) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	url := endpointWithScheme(endpoint, "wss", "ws")
	c, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if t.MaxMessageSize > 0 {
		c.SetReadLimit(t.MaxMessageSize)
	}

	return &wsConn{ws: c, closed: make(chan struct{})}, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

func (c *wsConn) Send(ctx context.Context, event string, payload any) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(deadline)
	} else {
		c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return Envelope{}, ErrConnClosed
		default:
		}
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return env, nil
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
