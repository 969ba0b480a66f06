// handlers_notifications.go - Fault feed and analytics handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/plantwatch/console/internal/faults"
	"github.com/plantwatch/console/internal/models"
)

// NotificationsResponse is the sorted fault feed.
type NotificationsResponse struct {
	Items     []faults.FaultItem `json:"items"`
	SortType  faults.SortType    `json:"sortType"`
	SortOrder faults.SortOrder   `json:"sortOrder"`
	Revision  uint64             `json:"revision"`
}

func (h *Handler) feed(c echo.Context) (*faults.Feed, error) {
	s, err := h.session(c)
	if err != nil {
		return nil, err
	}
	f, err := s.Notifications()
	if err != nil {
		return nil, FromDomainError(err)
	}
	return f, nil
}

func notificationsResponse(f *faults.Feed) NotificationsResponse {
	st, so := f.Sort()
	return NotificationsResponse{
		Items:     f.Items(),
		SortType:  st,
		SortOrder: so,
		Revision:  f.Revision(),
	}
}

// HandleListNotifications returns the feed. sortType and sortOrder, when
// given, change the feed's ordering first.
func (h *Handler) HandleListNotifications(c echo.Context) error {
	f, err := h.feed(c)
	if err != nil {
		return err
	}

	st, so := f.Sort()
	if raw := c.QueryParam("sortType"); raw != "" {
		if st, err = faults.ParseSortType(raw); err != nil {
			return NewValidationError("sortType")
		}
	}
	if raw := c.QueryParam("sortOrder"); raw != "" {
		if so, err = faults.ParseSortOrder(raw); err != nil {
			return NewValidationError("sortOrder")
		}
	}
	f.SetSort(st, so)

	return c.JSON(http.StatusOK, notificationsResponse(f))
}

// HandleDeleteNotification marks the fault as deleting; the request to the
// backend follows after the feed's delay.
func (h *Handler) HandleDeleteNotification(c echo.Context) error {
	f, err := h.feed(c)
	if err != nil {
		return err
	}
	if err := f.Delete(c.Request().Context(), models.FaultID(c.Param("faultId"))); err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusAccepted, notificationsResponse(f))
}

func (h *Handler) HandleReloadNotifications(c echo.Context) error {
	f, err := h.feed(c)
	if err != nil {
		return err
	}
	f.Reload(c.Request().Context())
	return c.JSON(http.StatusAccepted, notificationsResponse(f))
}

// HandleGetAnalytics returns the mounted viewer's result for :machineId.
// time_filter, when given, switches the viewer's filter first.
func (h *Handler) HandleGetAnalytics(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	machineID, err := parseMachineID(c)
	if err != nil {
		return err
	}
	v, err := s.Analytics(machineID)
	if err != nil {
		return FromDomainError(err)
	}

	if raw := c.QueryParam("time_filter"); raw != "" {
		if err := v.SetFilter(c.Request().Context(), models.TimeFilter(raw)); err != nil {
			return NewValidationError("time_filter")
		}
	}
	return c.JSON(http.StatusOK, v.Result())
}
