package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/plant"
	"github.com/plantwatch/console/internal/telemetry"
	"github.com/plantwatch/console/internal/testutil"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testutil.FakeBackend, *clock) {
	t.Helper()
	backend := testutil.NewFakeBackend()
	clk := &clock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}

	deps := Components{
		Store:        testutil.NewMockStorage(),
		Transports:   []telemetry.Transport{},
		Persister:    backend,
		Faults:       backend,
		Analytics:    backend,
		PlantOptions: []plant.Option{plant.WithMinter(plant.NewIDMinter(nil))},
	}
	m := NewManager(deps, append([]Option{WithClock(clk.Now)}, opts...)...)
	t.Cleanup(m.CloseAll)
	return m, backend, clk
}

func TestManagerOpenAndClose(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.Open("  "); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}

	s, err := m.Open("operator")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got, ok := m.Get(s.ID()); !ok || got != s {
		t.Fatalf("Get did not return the opened session")
	}
	if s.Username() != "operator" {
		t.Errorf("username = %q", s.Username())
	}

	if !m.Close(s.ID()) {
		t.Fatalf("Close returned false")
	}
	if m.Close(s.ID()) {
		t.Errorf("second Close should return false")
	}
	if _, ok := m.Get(s.ID()); ok {
		t.Errorf("closed session still listed")
	}
	if _, err := s.MountPlant(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("mount after close: got %v", err)
	}
}

func TestManagerEvictsLeastRecentlyUsed(t *testing.T) {
	m, _, clk := newTestManager(t, WithMaxSessions(2))

	first, _ := m.Open("a")
	clk.Advance(time.Second)
	second, _ := m.Open("b")
	clk.Advance(time.Second)
	m.Touch(first.ID())
	clk.Advance(time.Second)

	third, err := m.Open("c")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Count())
	}
	if _, ok := m.Get(second.ID()); ok {
		t.Errorf("least recently used session was not evicted")
	}
	for _, s := range []*Session{first, third} {
		if _, ok := m.Get(s.ID()); !ok {
			t.Errorf("session %s evicted unexpectedly", s.Username())
		}
	}
}

func TestCleanupOldSessions(t *testing.T) {
	m, _, clk := newTestManager(t)

	idle, _ := m.Open("idle")
	active, _ := m.Open("active")
	if _, err := idle.MountPlant(context.Background()); err != nil {
		t.Fatalf("MountPlant: %v", err)
	}

	clk.Advance(40 * time.Minute)
	m.Touch(active.ID())

	if n := m.CleanupOldSessions(30 * time.Minute); n != 1 {
		t.Fatalf("expected 1 session cleaned up, got %d", n)
	}
	if _, ok := m.Get(idle.ID()); ok {
		t.Errorf("idle session survived cleanup")
	}
	if _, ok := m.Get(active.ID()); !ok {
		t.Errorf("active session was cleaned up")
	}
	if _, err := idle.Plant(); !errors.Is(err, ErrViewNotMounted) {
		t.Errorf("cleanup should unmount views, got %v", err)
	}
}

func TestCleanupKeepsRecentSessions(t *testing.T) {
	m, _, clk := newTestManager(t)
	m.Open("recent")

	clk.Advance(2 * time.Minute)
	if n := m.CleanupOldSessions(time.Minute); n != 0 {
		t.Errorf("session inside keep-alive window was cleaned up")
	}
}

func TestSessionMountIsIdempotent(t *testing.T) {
	m, backend, _ := newTestManager(t)
	s, _ := m.Open("operator")
	ctx := context.Background()

	ed1, err := s.MountPlant(ctx)
	if err != nil {
		t.Fatalf("MountPlant: %v", err)
	}
	ed2, _ := s.MountPlant(ctx)
	if ed1 != ed2 {
		t.Errorf("second mount built a new editor")
	}
	ed1.Wait()
	if n := backend.Calls(testutil.OpLoadPlant); n != 1 {
		t.Errorf("expected 1 load, got %d", n)
	}

	if err := s.Unmount(models.ViewPlant, 0); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	ed3, _ := s.MountPlant(ctx)
	if ed3 == ed1 {
		t.Errorf("remount reused the unmounted editor")
	}
	ed3.Wait()
}

func TestSessionMountByName(t *testing.T) {
	m, backend, _ := newTestManager(t)
	backend.SetFaults("operator", []models.Fault{{FaultID: "f-1", FaultTime: models.MustTimestamp("2024-01-01")}})
	s, _ := m.Open("operator")
	ctx := context.Background()

	for _, view := range []models.ViewName{models.ViewDashboard, models.ViewPlant, models.ViewNotifications} {
		if err := s.Mount(ctx, view, 0); err != nil {
			t.Fatalf("Mount(%s): %v", view, err)
		}
	}
	if err := s.Mount(ctx, models.ViewAnalytics, 1700000000001); err != nil {
		t.Fatalf("Mount(analytics): %v", err)
	}
	if err := s.Mount(ctx, models.ViewAnalytics, 0); err == nil {
		t.Errorf("analytics without a machine id should fail")
	}
	if err := s.Mount(ctx, "settings", 0); !errors.Is(err, ErrUnknownView) {
		t.Errorf("expected ErrUnknownView, got %v", err)
	}

	info := s.Info()
	if len(info.Mounted) != 4 {
		t.Fatalf("expected 4 mounted views, got %v", info.Mounted)
	}

	feed, err := s.Notifications()
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	feed.Wait()
	if len(feed.Items()) != 1 {
		t.Errorf("expected the feed to load 1 fault")
	}

	engine, _ := s.Dashboard()
	if err := s.Unmount(models.ViewDashboard, 0); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if engine.State() != telemetry.StateClosed {
		t.Errorf("dashboard engine not deactivated, state %s", engine.State())
	}

	if err := s.Unmount(models.ViewAnalytics, 0); err != nil {
		t.Fatalf("Unmount analytics: %v", err)
	}
	if ids := s.AnalyticsMachines(); len(ids) != 0 {
		t.Errorf("analytics viewers left mounted: %v", ids)
	}
}

func TestListSessions(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Open("a")
	m.Open("b")

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	for _, vs := range list {
		if vs.ID == "" || vs.CreatedAt.IsZero() {
			t.Errorf("incomplete session info %+v", vs)
		}
	}
}
