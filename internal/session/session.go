package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/plantwatch/console/internal/analytics"
	"github.com/plantwatch/console/internal/faults"
	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/plant"
	"github.com/plantwatch/console/internal/storage"
	"github.com/plantwatch/console/internal/telemetry"
	"github.com/rs/zerolog"
)

var (
	ErrSessionClosed  = errors.New("session: closed")
	ErrUnknownView    = errors.New("session: unknown view")
	ErrViewNotMounted = errors.New("session: view not mounted")
)

// Components holds what a session needs to build its views.
type Components struct {
	Store      storage.Store
	Transports []telemetry.Transport
	Persister  plant.Persister
	Faults     faults.Service
	Analytics  analytics.Source

	DashboardOptions     []telemetry.Option
	PlantOptions         []plant.Option
	NotificationsOptions []faults.Option
	AnalyticsOptions     []analytics.Option

	// SnapshotKey prefixes each operator's durable snapshot key.
	SnapshotKey string

	// LiveAnalytics gives every analytics viewer its own push connection.
	LiveAnalytics    bool
	TelemetryAddress string
}

// Session is one operator's shell. Each view is mounted at most once; a
// remount after unmount builds a fresh component.
type Session struct {
	id        string
	username  string
	createdAt time.Time
	deps      *Components
	leases    *snapshotLeases
	log       zerolog.Logger

	mu           sync.Mutex
	lastAccessed time.Time
	closed       bool

	dashboard       *telemetry.Engine
	dashboardLeased bool
	plant           *plant.Editor
	notifications   *faults.Feed
	viewers         map[int64]*analytics.Viewer
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Username() string { return s.username }

func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastAccessed) {
		s.lastAccessed = now
	}
}

// Info describes the session and its mounted views.
func (s *Session) Info() models.ViewSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.ViewSession{
		ID:           s.id,
		Username:     s.username,
		Mounted:      s.mountedLocked(),
		CreatedAt:    s.createdAt,
		LastAccessed: s.lastAccessed,
	}
}

func (s *Session) mountedLocked() []models.ViewName {
	views := []models.ViewName{}
	if s.dashboard != nil {
		views = append(views, models.ViewDashboard)
	}
	if s.plant != nil {
		views = append(views, models.ViewPlant)
	}
	if s.notifications != nil {
		views = append(views, models.ViewNotifications)
	}
	if len(s.viewers) > 0 {
		views = append(views, models.ViewAnalytics)
	}
	return views
}

// Mount mounts view by name. machineID selects the analytics viewer and is
// ignored for other views.
func (s *Session) Mount(ctx context.Context, view models.ViewName, machineID int64) error {
	switch view {
	case models.ViewDashboard:
		_, err := s.MountDashboard(ctx)
		return err
	case models.ViewPlant:
		_, err := s.MountPlant(ctx)
		return err
	case models.ViewNotifications:
		_, err := s.MountNotifications(ctx)
		return err
	case models.ViewAnalytics:
		_, err := s.MountAnalytics(ctx, machineID)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownView, view)
}

// Unmount releases view. For analytics a zero machineID unmounts every
// viewer. Unmounting a view that is not mounted is a no-op.
func (s *Session) Unmount(view models.ViewName, machineID int64) error {
	s.mu.Lock()

	var release []func()
	switch view {
	case models.ViewDashboard:
		if e := s.dashboard; e != nil {
			leased := s.dashboardLeased
			release = append(release, e.Deactivate, func() { s.releaseSnapshot(e, leased) })
			s.dashboard = nil
		}
	case models.ViewPlant:
		if ed := s.plant; ed != nil {
			release = append(release, ed.Unmount)
			s.plant = nil
		}
	case models.ViewNotifications:
		if f := s.notifications; f != nil {
			release = append(release, f.Unmount)
			s.notifications = nil
		}
	case models.ViewAnalytics:
		for id, v := range s.viewers {
			if machineID == 0 || id == machineID {
				release = append(release, v.Unmount)
				delete(s.viewers, id)
			}
		}
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownView, view)
	}
	s.mu.Unlock()

	for _, fn := range release {
		fn()
	}
	if len(release) > 0 {
		s.log.Debug().Str("view", string(view)).Msg("view unmounted")
	}
	return nil
}

// MountDashboard activates the telemetry engine, or returns the one already
// mounted.
func (s *Session) MountDashboard(ctx context.Context) (*telemetry.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.dashboard != nil {
		return s.dashboard, nil
	}

	// The operator's key has one writer. Another session of the same operator
	// writes its own key, seeded from the operator's.
	key := SnapshotKey(s.deps.SnapshotKey, s.username)
	opts := append([]telemetry.Option(nil), s.deps.DashboardOptions...)
	leased := s.leases == nil || s.leases.acquire(key, s.id)
	if leased {
		opts = append(opts, telemetry.WithSnapshotKey(key))
	} else {
		opts = append(opts, telemetry.WithSnapshotKey(key+"/"+s.id), telemetry.WithSnapshotSeed(key))
	}

	e := telemetry.New(s.deps.Store, s.deps.Transports, opts...)
	if err := e.Activate(ctx); err != nil {
		s.releaseSnapshot(e, leased)
		return nil, fmt.Errorf("activating dashboard: %w", err)
	}
	s.dashboard = e
	s.dashboardLeased = leased
	s.log.Debug().Msg("dashboard mounted")
	return e, nil
}

func (s *Session) MountPlant(ctx context.Context) (*plant.Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.plant != nil {
		return s.plant, nil
	}

	ed := plant.NewEditor(s.username, s.deps.Persister, s.deps.PlantOptions...)
	ed.Mount(ctx)
	s.plant = ed
	s.log.Debug().Msg("plant editor mounted")
	return ed, nil
}

func (s *Session) MountNotifications(ctx context.Context) (*faults.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.notifications != nil {
		return s.notifications, nil
	}

	f := faults.NewFeed(s.username, s.deps.Faults, s.deps.NotificationsOptions...)
	f.Mount(ctx)
	s.notifications = f
	s.log.Debug().Msg("notifications mounted")
	return f, nil
}

func (s *Session) MountAnalytics(ctx context.Context, machineID int64) (*analytics.Viewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if machineID <= 0 {
		return nil, fmt.Errorf("session: invalid machine id %d", machineID)
	}
	if v, ok := s.viewers[machineID]; ok {
		return v, nil
	}

	opts := s.deps.AnalyticsOptions
	if s.deps.LiveAnalytics {
		opts = append(append([]analytics.Option(nil), opts...),
			analytics.WithLive(s.deps.TelemetryAddress, s.deps.Transports...))
	}
	v := analytics.NewViewer(s.username, machineID, s.deps.Analytics, opts...)
	v.Mount(ctx)
	s.viewers[machineID] = v
	s.log.Debug().Int64("machine_id", machineID).Msg("analytics mounted")
	return v, nil
}

// Dashboard returns the mounted engine.
func (s *Session) Dashboard() (*telemetry.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dashboard == nil {
		return nil, ErrViewNotMounted
	}
	return s.dashboard, nil
}

func (s *Session) Plant() (*plant.Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plant == nil {
		return nil, ErrViewNotMounted
	}
	return s.plant, nil
}

func (s *Session) Notifications() (*faults.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifications == nil {
		return nil, ErrViewNotMounted
	}
	return s.notifications, nil
}

func (s *Session) Analytics(machineID int64) (*analytics.Viewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.viewers[machineID]
	if !ok {
		return nil, ErrViewNotMounted
	}
	return v, nil
}

// AnalyticsMachines lists machine ids with a mounted viewer, ascending.
func (s *Session) AnalyticsMachines() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.viewers))
	for id := range s.viewers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// releaseSnapshot runs after e has stopped writing. A session-scoped key is
// removed; the operator's key is kept for the next mount.
func (s *Session) releaseSnapshot(e *telemetry.Engine, leased bool) {
	if !leased {
		if err := s.deps.Store.Delete(e.SnapshotKey()); err != nil {
			s.log.Debug().Err(err).Str("key", e.SnapshotKey()).Msg("removing session snapshot")
		}
		return
	}
	if s.leases != nil {
		s.leases.release(e.SnapshotKey(), s.id)
	}
}

// close unmounts everything and refuses later mounts.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	for _, view := range []models.ViewName{models.ViewDashboard, models.ViewPlant, models.ViewNotifications, models.ViewAnalytics} {
		s.Unmount(view, 0)
	}
}
