// handlers_dashboard.go - Telemetry view handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/plantwatch/console/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// DashboardResponse is the dashboard's current state.
type DashboardResponse struct {
	State     string                 `json:"state" msgpack:"state"`
	Transport string                 `json:"transport,omitempty" msgpack:"transport,omitempty"`
	Machines  []models.MachineStatus `json:"machines" msgpack:"machines"`
}

func (h *Handler) dashboard(c echo.Context) (*DashboardResponse, error) {
	s, err := h.session(c)
	if err != nil {
		return nil, err
	}
	engine, err := s.Dashboard()
	if err != nil {
		return nil, FromDomainError(err)
	}
	return &DashboardResponse{
		State:     string(engine.State()),
		Transport: engine.Transport(),
		Machines:  engine.Machines(),
	}, nil
}

// HandleDashboard returns the machine list of the session's dashboard.
func (h *Handler) HandleDashboard(c echo.Context) error {
	resp, err := h.dashboard(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleDashboardMsgpack returns the same body encoded as MessagePack.
func (h *Handler) HandleDashboardMsgpack(c echo.Context) error {
	resp, err := h.dashboard(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}
