// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/plantwatch/console/internal/metrics"
)

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, h *Handler, m *metrics.Metrics) {
	api := e.Group("/api")

	// Health and metrics
	api.GET("/health", h.HandleHealth)
	if m != nil {
		api.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	// View sessions
	api.GET("/sessions", h.HandleListSessions)
	api.POST("/sessions", h.HandleOpenSession)
	api.DELETE("/sessions/:sessionId", h.HandleCloseSession)
	api.POST("/sessions/:sessionId/keepalive", h.HandleKeepAlive)
	api.PUT("/sessions/:sessionId/views/:view", h.HandleMountView)
	api.DELETE("/sessions/:sessionId/views/:view", h.HandleUnmountView)

	// Dashboard
	sess := api.Group("/sessions/:sessionId")
	sess.GET("/dashboard", h.HandleDashboard)
	sess.GET("/dashboard/msgpack", h.HandleDashboardMsgpack)
	sess.GET("/dashboard/ws", h.HandleDashboardStream)

	// Plant editor
	sess.GET("/plant", h.HandleGetPlant)
	sess.POST("/plant", h.HandleCreatePlant)
	sess.POST("/plant/create", h.HandleBeginCreate)
	sess.POST("/plant/edit", h.HandleEditPlant)
	sess.POST("/plant/save", h.HandleSavePlant)
	sess.GET("/plant/payload", h.HandleGetPayload)
	sess.POST("/plant/zones", h.HandleAddZone)
	sess.PUT("/plant/selection", h.HandleSelectZone)
	sess.POST("/plant/zones/:zoneId/edit", h.HandleBeginZoneEdit)
	sess.PUT("/plant/zone-draft", h.HandleSetZoneDraft)
	sess.POST("/plant/zone-draft/save", h.HandleSaveZoneDraft)
	sess.DELETE("/plant/zone-draft", h.HandleCancelZoneDraft)
	sess.POST("/plant/machines", h.HandleAddMachine)
	sess.POST("/plant/machines/:key/edit", h.HandleBeginMachineEdit)
	sess.PUT("/plant/machine-draft", h.HandleSetMachineDraft)
	sess.POST("/plant/machine-draft/save", h.HandleSaveMachineDraft)
	sess.DELETE("/plant/machine-draft", h.HandleCancelMachineDraft)

	// Notifications
	sess.GET("/notifications", h.HandleListNotifications)
	sess.DELETE("/notifications/:faultId", h.HandleDeleteNotification)
	sess.POST("/notifications/reload", h.HandleReloadNotifications)

	// Analytics
	sess.GET("/analytics/:machineId", h.HandleGetAnalytics)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, m *metrics.Metrics) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	if m != nil {
		e.Use(m.Middleware())
	}
}
