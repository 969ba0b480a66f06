package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/session"
	"github.com/rs/zerolog"
)

// Handler handles API requests.
type Handler struct {
	sessions  SessionManager
	version   string
	startedAt time.Time
	upgrader  websocket.Upgrader
	log       zerolog.Logger

	maxMessageSize int64
}

// NewHandler creates a new API handler.
func NewHandler(sessions SessionManager, version string) *Handler {
	return &Handler{
		sessions:  sessions,
		version:   version,
		startedAt: time.Now(),
		upgrader:  newUpgrader(),
		log:       logger.WithComponent("api"),
	}
}

// SetMaxMessageSize bounds the frames the dashboard stream accepts from the
// view, in bytes.
func (h *Handler) SetMaxMessageSize(n int64) {
	h.maxMessageSize = n
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// session resolves :sessionId and marks the session as used.
func (h *Handler) session(c echo.Context) (*session.Session, error) {
	id := c.Param("sessionId")
	if id == "" {
		return nil, NewValidationError("sessionId")
	}
	s, ok := h.sessions.Get(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	h.sessions.Touch(id)
	return s, nil
}

// HandleOpenSession opens a view session for an operator.
func (h *Handler) HandleOpenSession(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("Invalid request body", err)
	}
	if strings.TrimSpace(req.Username) == "" {
		return NewValidationError("username")
	}

	s, err := h.sessions.Open(req.Username)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusCreated, s.Info())
}

func (h *Handler) HandleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.List())
}

func (h *Handler) HandleCloseSession(c echo.Context) error {
	id := c.Param("sessionId")
	if !h.sessions.Close(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleKeepAlive extends the session's lifetime.
func (h *Handler) HandleKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if !h.sessions.Touch(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMountView mounts :view. Analytics takes ?machineId=.
func (h *Handler) HandleMountView(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	view, machineID, err := viewParams(c)
	if err != nil {
		return err
	}

	if err := s.Mount(c.Request().Context(), view, machineID); err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusOK, s.Info())
}

// HandleUnmountView releases :view.
func (h *Handler) HandleUnmountView(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	view, machineID, err := viewParams(c)
	if err != nil {
		return err
	}

	if err := s.Unmount(view, machineID); err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusOK, s.Info())
}

func viewParams(c echo.Context) (models.ViewName, int64, error) {
	view := models.ViewName(c.Param("view"))
	if !view.Valid() {
		return "", 0, NewBadRequestError("Unknown view: "+string(view), nil)
	}

	var machineID int64
	if raw := c.QueryParam("machineId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return "", 0, NewValidationError("machineId")
		}
		machineID = id
	} else if view == models.ViewAnalytics && c.Request().Method != http.MethodDelete {
		return "", 0, NewValidationError("machineId")
	}
	return view, machineID, nil
}

func parseMachineID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("machineId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, NewValidationError("machineId")
	}
	return id, nil
}
