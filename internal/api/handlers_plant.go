// handlers_plant.go - Configuration editor handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/plantwatch/console/internal/plant"
)

type plantRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// machineRequest carries micIndex as text, the way the form submits it.
type machineRequest struct {
	Name        string `json:"name"`
	MicIndex    string `json:"micIndex"`
	Description string `json:"description"`
}

type selectionRequest struct {
	ZoneID string `json:"zoneId"`
}

// createdResponse pairs a new entity's id with the editor state.
type createdResponse struct {
	ID   string     `json:"id"`
	View plant.View `json:"view"`
}

type commitResponse struct {
	Seq  uint64     `json:"seq"`
	View plant.View `json:"view"`
}

func (h *Handler) editor(c echo.Context) (*plant.Editor, error) {
	s, err := h.session(c)
	if err != nil {
		return nil, err
	}
	ed, err := s.Plant()
	if err != nil {
		return nil, FromDomainError(err)
	}
	return ed, nil
}

// mutate runs fn against the session's editor and responds with the new
// view.
func (h *Handler) mutate(c echo.Context, fn func(*plant.Editor) error) error {
	ed, err := h.editor(c)
	if err != nil {
		return err
	}
	if err := fn(ed); err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusOK, ed.View())
}

func bindJSON(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return NewBadRequestError("Invalid request body", err)
	}
	return nil
}

func (h *Handler) HandleGetPlant(c echo.Context) error {
	return h.mutate(c, func(*plant.Editor) error { return nil })
}

func (h *Handler) HandleBeginCreate(c echo.Context) error {
	return h.mutate(c, (*plant.Editor).BeginCreate)
}

func (h *Handler) HandleCreatePlant(c echo.Context) error {
	var req plantRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	return h.mutate(c, func(ed *plant.Editor) error {
		return ed.CreatePlant(req.Name, req.Description)
	})
}

func (h *Handler) HandleEditPlant(c echo.Context) error {
	return h.mutate(c, (*plant.Editor).Edit)
}

// HandleSavePlant commits the tree. The response does not wait for the
// backend; poll the view for the commit outcome.
func (h *Handler) HandleSavePlant(c echo.Context) error {
	ed, err := h.editor(c)
	if err != nil {
		return err
	}
	seq, err := ed.Save(c.Request().Context())
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusAccepted, commitResponse{Seq: seq, View: ed.View()})
}

func (h *Handler) HandleGetPayload(c echo.Context) error {
	ed, err := h.editor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ed.Payload())
}

func (h *Handler) HandleAddZone(c echo.Context) error {
	var req plantRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ed, err := h.editor(c)
	if err != nil {
		return err
	}
	id, err := ed.AddZone(req.Name, req.Description)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: string(id), View: ed.View()})
}

// HandleSelectZone selects a zone; an empty zoneId clears the selection.
func (h *Handler) HandleSelectZone(c echo.Context) error {
	var req selectionRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	return h.mutate(c, func(ed *plant.Editor) error {
		if req.ZoneID == "" {
			ed.ClearSelection()
			return nil
		}
		return ed.SelectZone(plant.ZoneID(req.ZoneID))
	})
}

func (h *Handler) HandleBeginZoneEdit(c echo.Context) error {
	id := plant.ZoneID(c.Param("zoneId"))
	return h.mutate(c, func(ed *plant.Editor) error { return ed.BeginZoneEdit(id) })
}

func (h *Handler) HandleSetZoneDraft(c echo.Context) error {
	var req plantRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	return h.mutate(c, func(ed *plant.Editor) error {
		return ed.SetZoneDraft(req.Name, req.Description)
	})
}

func (h *Handler) HandleSaveZoneDraft(c echo.Context) error {
	return h.mutate(c, (*plant.Editor).SaveZoneEdit)
}

func (h *Handler) HandleCancelZoneDraft(c echo.Context) error {
	return h.mutate(c, func(ed *plant.Editor) error {
		ed.CancelZoneEdit()
		return nil
	})
}

func (h *Handler) HandleAddMachine(c echo.Context) error {
	var req machineRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ed, err := h.editor(c)
	if err != nil {
		return err
	}
	key, err := ed.AddMachine(req.Name, req.MicIndex, req.Description)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: string(key), View: ed.View()})
}

func (h *Handler) HandleBeginMachineEdit(c echo.Context) error {
	key := plant.MachineKey(c.Param("key"))
	return h.mutate(c, func(ed *plant.Editor) error { return ed.BeginMachineEdit(key) })
}

func (h *Handler) HandleSetMachineDraft(c echo.Context) error {
	var req machineRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	return h.mutate(c, func(ed *plant.Editor) error {
		return ed.SetMachineDraft(req.Name, req.MicIndex, req.Description)
	})
}

func (h *Handler) HandleSaveMachineDraft(c echo.Context) error {
	return h.mutate(c, (*plant.Editor).SaveMachineEdit)
}

func (h *Handler) HandleCancelMachineDraft(c echo.Context) error {
	return h.mutate(c, func(ed *plant.Editor) error {
		ed.CancelMachineEdit()
		return nil
	})
}
