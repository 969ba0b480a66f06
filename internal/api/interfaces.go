// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/session"
)

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Open(username string) (*session.Session, error)
	Get(id string) (*session.Session, bool)
	Touch(id string) bool
	Close(id string) bool
	List() []models.ViewSession
}

// SessionHandler handles view session lifecycle
type SessionHandler interface {
	HandleOpenSession(c echo.Context) error
	HandleListSessions(c echo.Context) error
	HandleCloseSession(c echo.Context) error
	HandleKeepAlive(c echo.Context) error
	HandleMountView(c echo.Context) error
	HandleUnmountView(c echo.Context) error
}

// DashboardHandler serves the telemetry view
type DashboardHandler interface {
	HandleDashboard(c echo.Context) error
	HandleDashboardMsgpack(c echo.Context) error
	HandleDashboardStream(c echo.Context) error
}

// PlantHandler serves the configuration editor
type PlantHandler interface {
	HandleGetPlant(c echo.Context) error
	HandleBeginCreate(c echo.Context) error
	HandleCreatePlant(c echo.Context) error
	HandleEditPlant(c echo.Context) error
	HandleSavePlant(c echo.Context) error
	HandleGetPayload(c echo.Context) error
	HandleAddZone(c echo.Context) error
	HandleSelectZone(c echo.Context) error
	HandleBeginZoneEdit(c echo.Context) error
	HandleSetZoneDraft(c echo.Context) error
	HandleSaveZoneDraft(c echo.Context) error
	HandleCancelZoneDraft(c echo.Context) error
	HandleAddMachine(c echo.Context) error
	HandleBeginMachineEdit(c echo.Context) error
	HandleSetMachineDraft(c echo.Context) error
	HandleSaveMachineDraft(c echo.Context) error
	HandleCancelMachineDraft(c echo.Context) error
}

// NotificationsHandler serves the fault feed
type NotificationsHandler interface {
	HandleListNotifications(c echo.Context) error
	HandleDeleteNotification(c echo.Context) error
	HandleReloadNotifications(c echo.Context) error
}

// AnalyticsHandler serves machine analytics
type AnalyticsHandler interface {
	HandleGetAnalytics(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

var (
	_ SessionManager       = (*session.Manager)(nil)
	_ SessionHandler       = (*Handler)(nil)
	_ DashboardHandler     = (*Handler)(nil)
	_ PlantHandler         = (*Handler)(nil)
	_ NotificationsHandler = (*Handler)(nil)
	_ AnalyticsHandler     = (*Handler)(nil)
	_ HealthHandler        = (*Handler)(nil)
)
