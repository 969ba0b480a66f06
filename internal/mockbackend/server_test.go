package mockbackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/plantwatch/console/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDefaultFixtures(t *testing.T) {
	f := DefaultFixtures()
	require.Contains(t, f.Plants, "operator")
	assert.Len(t, f.Plants["operator"].Zones, 2)
	assert.Len(t, f.Faults["operator"], 3)
	assert.Len(t, f.Machines, 3)
}

func TestParseFixtures_RejectsBadFaultTime(t *testing.T) {
	_, err := ParseFixtures([]byte("faults:\n  op:\n    - fault_id: x\n      fault_time: soon\n"))
	assert.Error(t, err)
}

func TestPlantEndpoints(t *testing.T) {
	s := New(nil)

	t.Run("unknown user has no plant", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/plant?username=nobody", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"plantdata":null}`, rec.Body.String())
	})

	t.Run("save then load", func(t *testing.T) {
		body := `{"username":"ana","plantName":"P","plantDescription":"D","zones":[{"zoneName":"Z","zoneDescription":"ZD","machines":[]}]}`
		rec := do(t, s, http.MethodPost, "/industry", body)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, s, http.MethodGet, "/plant?username=ana", "")
		var resp models.PlantResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.PlantData)
		assert.Equal(t, "P", resp.PlantData.PlantName)
		assert.Equal(t, "Z", resp.PlantData.Zones[0].ZoneName)
	})

	t.Run("failing saves", func(t *testing.T) {
		s.SetFailSaves(true)
		defer s.SetFailSaves(false)
		rec := do(t, s, http.MethodPost, "/industry", `{"username":"ana","plantName":"Q"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		p, _ := s.Plant("ana")
		assert.Equal(t, "P", p.PlantName)
	})
}

func TestFaultEndpoints(t *testing.T) {
	s := New(nil)

	rec := do(t, s, http.MethodGet, "/faults?username=operator", "")
	var resp models.FaultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Faults, 3)

	s.SetFailDeletes(true)
	rec = do(t, s, http.MethodDelete, "/faults/f-100?username=operator", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, s.Faults("operator"), 3)

	s.SetFailDeletes(false)
	rec = do(t, s, http.MethodDelete, "/faults/f-100?username=operator", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.Faults("operator"), 2)

	rec = do(t, s, http.MethodDelete, "/faults/f-100?username=operator", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsEndpoint(t *testing.T) {
	s := New(nil)

	rec := do(t, s, http.MethodGet, "/machine-analytics/1700000000001?username=operator&time_filter=month", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running_percentage":82.5`)

	rec = do(t, s, http.MethodGet, "/machine-analytics/1700000000001?time_filter=week", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/machine-analytics/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolling(t *testing.T) {
	s := New(nil)

	rec := do(t, s, http.MethodGet, "/socket/events?cursor=0", "")
	var first pollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Empty(t, first.Events)

	require.NoError(t, s.Step())
	require.NoError(t, s.Step())

	rec = do(t, s, http.MethodGet, "/socket/events?cursor=0", "")
	var next pollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	require.Len(t, next.Events, 2)
	assert.Equal(t, EventSnapshot, next.Events[0].Type)
	assert.Equal(t, int64(2), next.Cursor)

	var snap models.SnapshotPayload
	require.NoError(t, json.Unmarshal(next.Events[1].Payload, &snap))
	assert.Len(t, snap.Machine, 3)

	rec = do(t, s, http.MethodPost, "/socket/events", `{"type":"dashboard","payload":{"message":"hi"}}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, s.Received(), 1)
	assert.Equal(t, EventIdentify, s.Received()[0].Type)
}

func TestStep_CyclesMachines(t *testing.T) {
	s := New(&Fixtures{Machines: []models.MachineStatus{
		{MachineID: 1, Status: models.MachineStatusRunning, Health: models.HealthHealthy},
	}})

	require.NoError(t, s.Step())
	s.mu.Lock()
	assert.Equal(t, models.MachineStatusNotRunning, s.machines[0].Status)
	assert.Equal(t, models.HealthUnknown, s.machines[0].Health)
	s.mu.Unlock()

	require.NoError(t, s.Step())
	s.mu.Lock()
	assert.Equal(t, models.MachineStatusRunning, s.machines[0].Status)
	s.mu.Unlock()
}
