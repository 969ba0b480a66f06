// Package telemetry keeps the dashboard's machine list in sync with the
// backend push channel and the locally persisted last-known snapshot.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/metrics"
	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/storage"
	"github.com/rs/zerolog"
)

// State of an engine's push-channel connection.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateLive       State = "live"
	StateOffline    State = "offline"
	StateClosed     State = "closed"
)

const (
	DefaultEndpoint    = "ws://127.0.0.1:5007/socket"
	DefaultHandshake   = "User has connected!"
	DefaultSnapshotKey = "machineData"
)

var (
	ErrAlreadyActive = errors.New("telemetry: engine already active")
	ErrClosed        = errors.New("telemetry: engine closed")
)

// AlertHook receives the payload of every alert event.
type AlertHook func(payload json.RawMessage)

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option    { return func(e *Engine) { e.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithAlertHook(h AlertHook) Option      { return func(e *Engine) { e.alert = h } }
func WithEndpoint(endpoint string) Option   { return func(e *Engine) { e.endpoint = endpoint } }
func WithHandshake(message string) Option   { return func(e *Engine) { e.handshake = message } }
func WithSnapshotKey(key string) Option     { return func(e *Engine) { e.snapshotKey = key } }
func WithSnapshotSeed(key string) Option    { return func(e *Engine) { e.seedKey = key } }
func WithCodec(c Codec) Option              { return func(e *Engine) { e.codec = c } }

// Engine owns one activation of the dashboard's push channel. It is built,
// activated once and deactivated once; a remount builds a new Engine.
type Engine struct {
	store      storage.Store
	transports []Transport

	endpoint    string
	handshake   string
	snapshotKey string
	seedKey     string
	codec       Codec
	alert       AlertHook
	log         zerolog.Logger
	metrics     *metrics.Metrics

	mu        sync.Mutex
	state     State
	transport string
	activated bool
	machines  []models.MachineStatus
	conn      Conn
	cancel    context.CancelFunc
	done      chan struct{}
	subs      map[int]chan []models.MachineStatus
	nextSub   int
}

// New builds an engine that reads and writes the snapshot in store and tries
// transports in order.
func New(store storage.Store, transports []Transport, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		transports:  transports,
		endpoint:    DefaultEndpoint,
		handshake:   DefaultHandshake,
		snapshotKey: DefaultSnapshotKey,
		codec:       JSONCodec,
		log:         logger.WithComponent("telemetry"),
		state:       StateIdle,
		machines:    []models.MachineStatus{},
		subs:        make(map[int]chan []models.MachineStatus),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Activate loads the persisted snapshot and starts connecting in the
// background. Machines reflects the persisted snapshot when Activate returns.
func (e *Engine) Activate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return ErrClosed
	}
	if e.activated {
		return ErrAlreadyActive
	}
	e.activated = true

	e.machines = e.loadSnapshot()
	e.state = StateConnecting

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.run(runCtx, e.done)

	return nil
}

// loadSnapshot reads the engine's own key, falling back to the seed key when
// nothing has been written yet. The seed is never written.
func (e *Engine) loadSnapshot() []models.MachineStatus {
	key := e.snapshotKey
	data, err := e.store.Get(key)
	if errors.Is(err, storage.ErrNotFound) && e.seedKey != "" {
		key = e.seedKey
		data, err = e.store.Get(key)
	}
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.log.Warn().Err(err).Str("key", key).Msg("reading persisted snapshot")
		}
		return []models.MachineStatus{}
	}

	var machines []models.MachineStatus
	if err := e.codec.Unmarshal(data, &machines); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("decoding persisted snapshot")
		return []models.MachineStatus{}
	}
	if machines == nil {
		machines = []models.MachineStatus{}
	}

	e.log.Debug().Int("machines", len(machines)).Msg("loaded persisted snapshot")
	return machines
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	conn, name := e.connect(ctx)
	if conn == nil {
		return
	}
	defer conn.Close()

	if err := conn.Send(ctx, EventIdentify, models.HandshakePayload{Message: e.handshake}); err != nil {
		e.log.Warn().Err(err).Str("transport", name).Msg("sending identification")
	}

	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				e.log.Warn().Err(err).Msg("ignoring frame")
				continue
			}

			e.mu.Lock()
			if e.state != StateClosed {
				e.state = StateOffline
				e.log.Info().Err(err).Str("transport", name).Msg("push channel lost")
			}
			e.mu.Unlock()
			return
		}
		e.handle(env)
	}
}

// connect dials the push channel and records it unless the engine was
// deactivated while dialing.
func (e *Engine) connect(ctx context.Context) (Conn, string) {
	conn, t, err := Dial(ctx, e.transports, e.endpoint, e.metrics, e.log)
	if err != nil {
		e.mu.Lock()
		if e.state != StateClosed {
			e.state = StateOffline
		}
		e.mu.Unlock()

		e.log.Info().Err(err).Str("endpoint", e.endpoint).Msg("push channel unavailable, showing cached snapshot")
		return nil, ""
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		conn.Close()
		return nil, ""
	}
	e.conn = conn
	e.state = StateLive
	e.transport = t.Name()
	e.mu.Unlock()

	e.log.Info().Str("transport", t.Name()).Str("endpoint", e.endpoint).Msg("push channel connected")
	return conn, t.Name()
}

func (e *Engine) handle(env Envelope) {
	e.metrics.TelemetryEvent(env.Type)

	switch env.Type {
	case EventSnapshot:
		var payload models.SnapshotPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			e.log.Warn().Err(err).Msg("ignoring malformed snapshot")
			return
		}
		e.applySnapshot(payload.Machine)

	case EventAlert:
		e.fireAlert(env.Payload)

	default:
		e.log.Debug().Str("event", env.Type).Msg("ignoring event")
	}
}

func (e *Engine) applySnapshot(machines []models.MachineStatus) {
	if machines == nil {
		machines = []models.MachineStatus{}
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	e.machines = machines
	for _, ch := range e.subs {
		offer(ch, models.CloneMachines(machines))
	}
	e.mu.Unlock()

	data, err := e.codec.Marshal(machines)
	if err == nil {
		err = e.store.Put(e.snapshotKey, data)
	}
	e.metrics.SnapshotWrite(err)
	if err != nil {
		e.log.Error().Err(err).Str("key", e.snapshotKey).Msg("persisting snapshot")
	}
}

func (e *Engine) fireAlert(payload json.RawMessage) {
	if e.alert == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("alert hook panicked")
		}
	}()
	e.alert(payload)
}

// offer delivers snap to a buffer-1 channel, replacing an unread value.
func offer(ch chan []models.MachineStatus, snap []models.MachineStatus) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Deactivate closes the connection and waits for the receive loop to exit.
// It is idempotent.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	e.state = StateClosed

	if e.cancel != nil {
		e.cancel()
	}
	conn, done := e.conn, e.done
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	e.log.Debug().Msg("deactivated")
}

// Machines returns a copy of the current machine list.
func (e *Engine) Machines() []models.MachineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := models.CloneMachines(e.machines)
	if out == nil {
		out = []models.MachineStatus{}
	}
	return out
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SnapshotKey is the store key the engine writes.
func (e *Engine) SnapshotKey() string { return e.snapshotKey }

// Transport names the transport of the current or last connection.
func (e *Engine) Transport() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport
}

// Subscribe returns a channel that receives the current list and every later
// snapshot. A slow reader only sees the latest value. The channel is closed
// by cancel or by Deactivate.
func (e *Engine) Subscribe() (<-chan []models.MachineStatus, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan []models.MachineStatus, 1)
	if e.state == StateClosed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- models.CloneMachines(e.machines)

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
}
