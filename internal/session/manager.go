package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plantwatch/console/internal/analytics"
	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/metrics"
	"github.com/plantwatch/console/internal/models"
	"github.com/rs/zerolog"
)

// DefaultMaxSessions limits concurrent view sessions.
const DefaultMaxSessions = 64

// SessionKeepAliveWindow protects recently used sessions from cleanup.
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrSessionNotFound  = errors.New("session: not found")
	ErrUsernameRequired = errors.New("session: username is required")
)

// Manager tracks operator view sessions and the components mounted in them.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	deps     Components
	leases   *snapshotLeases
	max      int
	now      func() time.Time
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Manager)

func WithMaxSessions(n int) Option           { return func(m *Manager) { m.max = n } }
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }
func WithClock(now func() time.Time) Option  { return func(m *Manager) { m.now = now } }

// NewManager creates a session manager that builds views from deps.
func NewManager(deps Components, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
		leases:   newSnapshotLeases(),
		max:      DefaultMaxSessions,
		now:      time.Now,
		log:      logger.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.max <= 0 {
		m.max = DefaultMaxSessions
	}
	return m
}

// Open starts a view session for username. When the manager is full the
// least recently used session is closed first.
func (m *Manager) Open(username string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUsernameRequired
	}

	m.mu.Lock()
	var evicted *Session
	if len(m.sessions) >= m.max {
		evicted = m.oldestLocked()
		if evicted != nil {
			delete(m.sessions, evicted.id)
		}
	}

	now := m.now()
	s := &Session{
		id:           uuid.New().String(),
		username:     username,
		createdAt:    now,
		lastAccessed: now,
		deps:         &m.deps,
		leases:       m.leases,
		log:          m.log.With().Str("username", username).Logger(),
		viewers:      make(map[int64]*analytics.Viewer),
	}
	m.sessions[s.id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	if evicted != nil {
		evicted.close()
		m.log.Info().Str("session", shortID(evicted.id)).Msg("evicted least recently used session")
	}
	m.metrics.SetActiveSessions(count)
	m.log.Info().Str("session", shortID(s.id)).Str("username", username).Msg("session opened")
	return s, nil
}

func (m *Manager) oldestLocked() *Session {
	var oldest *Session
	for _, s := range m.sessions {
		if oldest == nil || s.LastAccessed().Before(oldest.LastAccessed()) {
			oldest = s
		}
	}
	return oldest
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Touch updates the LastAccessed timestamp for a session. This should be
// called whenever a session is actively being used to prevent it from being
// cleaned up.
func (m *Manager) Touch(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.touch(m.now())
	return true
}

// Close ends a session and unmounts every view it owns.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.close()
	m.metrics.SetActiveSessions(count)
	m.log.Info().Str("session", shortID(id)).Msg("session closed")
	return true
}

// CloseAll ends every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	m.metrics.SetActiveSessions(0)
}

// CleanupOldSessions closes sessions idle for longer than maxAge, but keeps
// sessions that have been accessed within SessionKeepAliveWindow. It returns
// the number of sessions closed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	now := m.now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		last := s.LastAccessed()
		if last.After(keepAliveCutoff) {
			continue
		}
		if last.Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, s := range stale {
		s.close()
		m.log.Info().
			Str("session", shortID(s.id)).
			Dur("idle", now.Sub(s.LastAccessed()).Round(time.Second)).
			Msg("cleaned up idle session")
	}
	if len(stale) > 0 {
		m.metrics.SetActiveSessions(count)
	}
	return len(stale)
}

// RunCleanup calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List describes every open session.
func (m *Manager) List() []models.ViewSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ViewSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
