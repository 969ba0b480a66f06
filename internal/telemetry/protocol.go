package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/plantwatch/console/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Push-channel event names.
const (
	// Console -> backend
	EventIdentify = "dashboard"

	// Backend -> console
	EventSnapshot = "sent_data"
	EventAlert    = "sent_datum"
)

// Envelope is the frame exchanged on every transport.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope encodes payload as JSON into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Type: event, Timestamp: time.Now().UnixMilli()}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	env.Payload = raw
	return env, nil
}

// PollResponse is the body of GET <endpoint>/events.
type PollResponse struct {
	Cursor int64      `json:"cursor"`
	Events []Envelope `json:"events"`
}

// Transport opens push-channel connections of one kind.
type Transport interface {
	Name() string
	Connect(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is one established push-channel connection. Close must be safe to call
// more than once and must unblock a pending Receive.
type Conn interface {
	Send(ctx context.Context, event string, payload any) error
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

var (
	// ErrConnClosed is returned by Send and Receive after Close.
	ErrConnClosed = errors.New("telemetry: connection closed")

	// ErrMalformedFrame is returned by Receive for a frame that is not an
	// envelope. The connection stays usable.
	ErrMalformedFrame = errors.New("telemetry: malformed frame")
)

// Codec encodes the snapshot written to local storage.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                      { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                      { return "msgpack" }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

var (
	JSONCodec    Codec = jsonCodec{}
	MsgpackCodec Codec = msgpackCodec{}
)

// CodecByName returns the codec called name; an empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec, nil
	case "msgpack":
		return MsgpackCodec, nil
	}
	return nil, fmt.Errorf("telemetry: unknown snapshot codec %q", name)
}

// endpointWithScheme rewrites the scheme of endpoint between ws and http forms.
func endpointWithScheme(endpoint string, secure, plain string) string {
	switch {
	case strings.HasPrefix(endpoint, "wss://"), strings.HasPrefix(endpoint, "https://"):
		return secure + "://" + endpoint[strings.Index(endpoint, "://")+3:]
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "http://"):
		return plain + "://" + endpoint[strings.Index(endpoint, "://")+3:]
	}
	return plain + "://" + endpoint
}

// ErrNoTransport is returned by Dial when every transport failed.
var ErrNoTransport = errors.New("telemetry: no transport could connect")

// Dial tries each transport once, in order, and returns the first
// connection.
func Dial(ctx context.Context, transports []Transport, endpoint string, m *metrics.Metrics, log zerolog.Logger) (Conn, Transport, error) {
	for _, t := range transports {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		conn, err := t.Connect(ctx, endpoint)
		m.ConnectionAttempt(t.Name(), err)
		if err != nil {
			log.Debug().Err(err).Str("transport", t.Name()).Msg("transport unavailable")
			continue
		}
		return conn, t, nil
	}
	return nil, nil, ErrNoTransport
}
