// Package mockbackend is a stand-in for the plant backend: the persistence,
// fault and analytics endpoints plus the telemetry push channel. It is used
// for local development and end-to-end tests.
package mockbackend

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/models"
	"github.com/rs/zerolog"
)

// Push-channel event names, mirrored from the console's protocol.
const (
	EventIdentify = "dashboard"
	EventSnapshot = "sent_data"
	EventAlert    = "sent_datum"
)

// Frame is the push-channel envelope.
type Frame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type pollResponse struct {
	Cursor int64   `json:"cursor"`
	Events []Frame `json:"events"`
}

// maxEvents bounds the replay log served to polling clients.
const maxEvents = 256

type wsClient struct {
	send chan Frame
}

// Server holds the mock backend state. All exported methods are safe for
// concurrent use.
type Server struct {
	echo     *echo.Echo
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu          sync.Mutex
	plants      map[string]models.PlantRecord
	faults      map[string][]models.Fault
	machines    []models.MachineStatus
	analytics   map[string]AnalyticsFixture
	failSaves   bool
	failDeletes bool
	failSocket  bool
	saves       int
	events      []Frame
	eventBase   int64
	received    []Frame
	clients     map[*wsClient]struct{}
	tick        int
}

// New builds a mock backend seeded from f. A nil f uses DefaultFixtures.
func New(f *Fixtures) *Server {
	if f == nil {
		f = DefaultFixtures()
	}

	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		log:       logger.WithComponent("mockbackend"),
		plants:    make(map[string]models.PlantRecord),
		faults:    make(map[string][]models.Fault),
		machines:  models.CloneMachines(f.Machines),
		analytics: make(map[string]AnalyticsFixture),
		clients:   make(map[*wsClient]struct{}),
	}
	for user, p := range f.Plants {
		s.plants[user] = p
	}
	for user, list := range f.Faults {
		for _, ff := range list {
			s.faults[user] = append(s.faults[user], models.Fault{
				FaultID:     models.FaultID(ff.ID),
				MachineName: ff.MachineName,
				FaultTime:   models.MustTimestamp(ff.FaultTime),
			})
		}
	}
	for id, a := range f.Analytics {
		s.analytics[id] = a
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/plant", s.handleGetPlant)
	e.POST("/industry", s.handleSavePlant)
	e.GET("/faults", s.handleListFaults)
	e.DELETE("/faults/:id", s.handleDeleteFault)
	e.GET("/machine-analytics/:id", s.handleAnalytics)
	e.GET("/socket", s.handleSocket)
	e.GET("/socket/events", s.handlePoll)
	e.POST("/socket/events", s.handlePollSend)
	s.echo = e

	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until the server is closed.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// SetFailSaves makes POST /industry answer 500.
func (s *Server) SetFailSaves(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = fail
}

// SetFailDeletes makes DELETE /faults/:id answer 500.
func (s *Server) SetFailDeletes(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDeletes = fail
}

// SetFailSocket refuses WebSocket upgrades so clients fall back to polling.
func (s *Server) SetFailSocket(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSocket = fail
}

// Plant returns the stored plant for username.
func (s *Server) Plant(username string) (models.PlantRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plants[username]
	return p, ok
}

// Saves counts accepted and rejected POST /industry requests.
func (s *Server) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Faults returns the stored faults for username.
func (s *Server) Faults(username string) []models.Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Fault(nil), s.faults[username]...)
}

// Received returns the frames clients sent on the push channel.
func (s *Server) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.received...)
}

// Clients counts connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// SetMachines replaces the telemetry rows served by the next push.
func (s *Server) SetMachines(machines []models.MachineStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines = models.CloneMachines(machines)
}

// Broadcast queues an event for polling clients and writes it to every
// WebSocket client.
func (s *Server) Broadcast(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := Frame{Type: event, Payload: raw, Timestamp: time.Now().UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, frame)
	if drop := len(s.events) - maxEvents; drop > 0 {
		s.events = append([]Frame(nil), s.events[drop:]...)
		s.eventBase += int64(drop)
	}
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.log.Warn().Msg("dropping frame for slow client")
		}
	}
	return nil
}

// PushSnapshot broadcasts the current machine rows.
func (s *Server) PushSnapshot() error {
	s.mu.Lock()
	snap := models.SnapshotPayload{Machine: models.CloneMachines(s.machines)}
	s.mu.Unlock()
	if snap.Machine == nil {
		snap.Machine = []models.MachineStatus{}
	}
	return s.Broadcast(EventSnapshot, snap)
}

// Step advances the simulated plant by one tick and pushes a snapshot. Each
// tick toggles one machine's run state in turn.
func (s *Server) Step() error {
	s.mu.Lock()
	if n := len(s.machines); n > 0 {
		m := &s.machines[s.tick%n]
		if m.Status == models.MachineStatusRunning {
			m.Status = models.MachineStatusNotRunning
			m.Health = models.HealthUnknown
		} else {
			m.Status = models.MachineStatusRunning
			m.Health = models.HealthHealthy
		}
		m.Time = time.Now().UTC().Format(time.RFC3339)
	}
	s.tick++
	s.mu.Unlock()

	return s.PushSnapshot()
}

// Run calls Step every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Step(); err != nil {
				s.log.Error().Err(err).Msg("push step")
			}
		}
	}
}

func (s *Server) handleGetPlant(c echo.Context) error {
	s.mu.Lock()
	p, ok := s.plants[c.QueryParam("username")]
	s.mu.Unlock()

	if !ok {
		return c.JSON(http.StatusOK, models.PlantResponse{})
	}
	return c.JSON(http.StatusOK, models.PlantResponse{PlantData: &p})
}

func (s *Server) handleSavePlant(c echo.Context) error {
	var payload models.PlantPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++

	if s.failSaves {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "save rejected"})
	}
	if payload.Username == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username required"})
	}
	s.plants[payload.Username] = payload.Record()

	return c.JSON(http.StatusOK, map[string]string{"message": "Plant saved"})
}

func (s *Server) handleListFaults(c echo.Context) error {
	s.mu.Lock()
	faults := append([]models.Fault{}, s.faults[c.QueryParam("username")]...)
	s.mu.Unlock()

	return c.JSON(http.StatusOK, models.FaultsResponse{Faults: faults})
}

func (s *Server) handleDeleteFault(c echo.Context) error {
	id := models.FaultID(c.Param("id"))
	user := c.QueryParam("username")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failDeletes {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "delete rejected"})
	}

	list := s.faults[user]
	for i, f := range list {
		if f.FaultID == id {
			next := make([]models.Fault, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			s.faults[user] = next
			return c.JSON(http.StatusOK, map[string]string{"message": "Fault deleted"})
		}
	}
	return c.JSON(http.StatusNotFound, map[string]string{"error": "fault not found"})
}

func (s *Server) handleAnalytics(c echo.Context) error {
	id := c.Param("id")
	filter := models.TimeFilter(c.QueryParam("time_filter"))
	if filter == "" {
		filter = models.TimeFilterDay
	}
	if !filter.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid time_filter"})
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid machine id"})
	}

	s.mu.Lock()
	a, ok := s.analytics[id]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no analytics for machine"})
	}

	return c.JSON(http.StatusOK, a.result())
}

func (s *Server) handleSocket(c echo.Context) error {
	s.mu.Lock()
	refuse := s.failSocket
	s.mu.Unlock()
	if refuse {
		return c.NoContent(http.StatusServiceUnavailable)
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	client := &wsClient{send: make(chan Frame, 16)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame Frame
			if err := ws.ReadJSON(&frame); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("socket read")
				}
				return
			}
			s.record(frame)
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case frame := <-client.send:
			ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := ws.WriteJSON(frame); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) record(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, frame)
	if frame.Type == EventIdentify {
		s.log.Debug().RawJSON("payload", frame.Payload).Msg("dashboard identified")
	}
}

func (s *Server) handlePoll(c echo.Context) error {
	cursor, _ := strconv.ParseInt(c.QueryParam("cursor"), 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := cursor - s.eventBase
	if idx < 0 {
		idx = 0
	}
	if idx > int64(len(s.events)) {
		idx = int64(len(s.events))
	}
	events := append([]Frame{}, s.events[idx:]...)

	return c.JSON(http.StatusOK, pollResponse{Cursor: s.eventBase + int64(len(s.events)), Events: events})
}

func (s *Server) handlePollSend(c echo.Context) error {
	var frame Frame
	if err := c.Bind(&frame); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid frame"})
	}
	s.record(frame)
	return c.NoContent(http.StatusNoContent)
}
