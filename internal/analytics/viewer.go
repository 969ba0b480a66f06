// Package analytics holds the per-machine analytics view. Results are
// computed by the backend and relayed verbatim.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/metrics"
	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/telemetry"
	"github.com/rs/zerolog"
)

var ErrInvalidFilter = errors.New("analytics: time filter must be day, month or year")

// Source fetches analytics for one machine.
type Source interface {
	MachineAnalytics(ctx context.Context, username string, machineID int64, filter models.TimeFilter) (*models.MachineAnalytics, error)
}

// EventName is the push event carrying live analytics for machineID.
func EventName(machineID int64) string {
	return fmt.Sprintf("machine_analytics_%d", machineID)
}

// Result is the view's current state.
type Result struct {
	MachineID int64                    `json:"machineId"`
	Filter    models.TimeFilter        `json:"timeFilter"`
	Loading   bool                     `json:"loading"`
	Live      bool                     `json:"live"`
	Analytics *models.MachineAnalytics `json:"analytics"`
	Err       string                   `json:"error,omitempty"`
}

type Option func(*Viewer)

func WithLogger(l zerolog.Logger) Option    { return func(v *Viewer) { v.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(v *Viewer) { v.metrics = m } }
func WithFilter(f models.TimeFilter) Option { return func(v *Viewer) { v.filter = f } }

// WithLive makes the viewer open its own push connection on Mount and apply
// machine_analytics_<id> events.
func WithLive(endpoint string, transports ...telemetry.Transport) Option {
	return func(v *Viewer) {
		v.endpoint = endpoint
		v.transports = transports
	}
}

// Viewer shows analytics for one machine.
type Viewer struct {
	username  string
	machineID int64
	source    Source
	log       zerolog.Logger
	metrics   *metrics.Metrics

	endpoint   string
	transports []telemetry.Transport

	mu       sync.Mutex
	inflight sync.WaitGroup
	mounted  bool
	closed   bool

	filter  models.TimeFilter
	seq     uint64
	loading bool
	result  *models.MachineAnalytics
	err     error

	conn   telemetry.Conn
	live   bool
	cancel context.CancelFunc
}

func NewViewer(username string, machineID int64, source Source, opts ...Option) *Viewer {
	v := &Viewer{
		username:  username,
		machineID: machineID,
		source:    source,
		log:       logger.WithComponent("analytics"),
		filter:    models.TimeFilterDay,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.With().Int64("machine_id", machineID).Logger()
	return v
}

func (v *Viewer) MachineID() int64 { return v.machineID }

// Mount fetches the analytics and, when configured, opens the live channel.
// A second Mount is a no-op.
func (v *Viewer) Mount(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || v.mounted {
		return
	}
	v.mounted = true
	v.fetchLocked(ctx)

	if len(v.transports) > 0 {
		liveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		v.cancel = cancel
		v.inflight.Add(1)
		go v.listen(liveCtx)
	}
}

// SetFilter validates f and refetches when it differs from the current one.
func (v *Viewer) SetFilter(ctx context.Context, f models.TimeFilter) error {
	if !f.Valid() {
		return ErrInvalidFilter
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if f == v.filter {
		return nil
	}
	v.filter = f
	if v.mounted && !v.closed {
		v.fetchLocked(ctx)
	}
	return nil
}

func (v *Viewer) fetchLocked(ctx context.Context) {
	v.seq++
	seq, filter := v.seq, v.filter
	v.loading = true
	v.inflight.Add(1)

	go func() {
		defer v.inflight.Done()

		a, err := v.source.MachineAnalytics(context.WithoutCancel(ctx), v.username, v.machineID, filter)

		v.mu.Lock()
		defer v.mu.Unlock()

		if v.closed || seq != v.seq {
			v.log.Debug().Str("filter", string(filter)).Msg("discarding stale analytics")
			return
		}
		v.loading = false
		if err != nil {
			v.log.Error().Err(err).Str("filter", string(filter)).Msg("loading analytics")
			v.err = err
			return
		}
		v.result, v.err = a, nil
	}()
}

// listen owns the live connection for the life of the mount.
func (v *Viewer) listen(ctx context.Context) {
	defer v.inflight.Done()

	conn, t, err := telemetry.Dial(ctx, v.transports, v.endpoint, v.metrics, v.log)
	if err != nil {
		v.log.Info().Err(err).Msg("live analytics unavailable")
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		conn.Close()
		return
	}
	v.conn, v.live = conn, true
	v.mu.Unlock()
	defer conn.Close()

	v.log.Debug().Str("transport", t.Name()).Msg("live analytics connected")
	event := EventName(v.machineID)

	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, telemetry.ErrMalformedFrame) {
				continue
			}
			v.mu.Lock()
			v.live = false
			v.mu.Unlock()
			return
		}
		if env.Type != event {
			continue
		}

		var a models.MachineAnalytics
		if err := json.Unmarshal(env.Payload, &a); err != nil {
			v.log.Warn().Err(err).Msg("ignoring malformed analytics event")
			continue
		}

		// A pushed result supersedes any fetch still in flight.
		v.mu.Lock()
		if !v.closed {
			v.seq++
			v.result, v.err, v.loading = &a, nil, false
		}
		v.mu.Unlock()
	}
}

// Result returns the current state.
func (v *Viewer) Result() Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	r := Result{
		MachineID: v.machineID,
		Filter:    v.filter,
		Loading:   v.loading,
		Live:      v.live,
	}
	if v.result != nil {
		a := *v.result
		r.Analytics = &a
	}
	if v.err != nil {
		r.Err = v.err.Error()
	}
	return r
}

// Unmount closes the live connection and freezes state.
func (v *Viewer) Unmount() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.live = false
	conn, cancel := v.conn, v.cancel
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// Wait blocks until in-flight fetches and the live channel have finished. A
// live channel only finishes after Unmount.
func (v *Viewer) Wait() {
	v.inflight.Wait()
}
