package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultID_UnmarshalJSON(t *testing.T) {
	t.Run("string id", func(t *testing.T) {
		var f Fault
		require.NoError(t, json.Unmarshal([]byte(`{"fault_id":"abc-1"}`), &f))
		assert.Equal(t, FaultID("abc-1"), f.FaultID)
	})

	t.Run("numeric id", func(t *testing.T) {
		var f Fault
		require.NoError(t, json.Unmarshal([]byte(`{"fault_id":42}`), &f))
		assert.Equal(t, FaultID("42"), f.FaultID)
	})

	t.Run("null id", func(t *testing.T) {
		var f Fault
		require.NoError(t, json.Unmarshal([]byte(`{"fault_id":null}`), &f))
		assert.Equal(t, FaultID(""), f.FaultID)
	})
}

func TestTimestamp_Layouts(t *testing.T) {
	cases := map[string]time.Time{
		"2024-01-02":                    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		"2024-01-02 13:04:05":           time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC),
		"2024-01-02T13:04:05Z":          time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC),
		"Tue, 02 Jan 2024 13:04:05 GMT": time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC),
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			ts, err := ParseTimestamp(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(ts.Time), "got %v", ts.Time)
		})
	}

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseTimestamp("yesterday")
		assert.Error(t, err)
	})
}

func TestFault_DecodesBackendShape(t *testing.T) {
	body := `{"faults":[{"fault_id":7,"machine name":"Press 1","fault_time":"2024-03-04 10:00:00"}]}`

	var resp FaultsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Len(t, resp.Faults, 1)

	f := resp.Faults[0]
	assert.Equal(t, FaultID("7"), f.FaultID)
	assert.Equal(t, "Press 1", f.MachineName)
	assert.Equal(t, time.March, f.FaultTime.Month())

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"fault_time":"2024-03-04T10:00:00Z"`)
}

func TestFault_UnrecognisedTimeKeepsRecord(t *testing.T) {
	body := `{"faults":[
		{"fault_id":"1","machine name":"Press 1","fault_time":"2024-01-02"},
		{"fault_id":"2","machine name":"Press 2","fault_time":"02/01/2024 10:00"}
	]}`

	var resp FaultsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Len(t, resp.Faults, 2)

	assert.Empty(t, resp.Faults[0].FaultTime.Unparsed())
	assert.Equal(t, 2024, resp.Faults[0].FaultTime.Year())

	bad := resp.Faults[1].FaultTime
	assert.True(t, bad.IsZero())
	assert.Equal(t, "02/01/2024 10:00", bad.Unparsed())

	out, err := json.Marshal(resp.Faults[1])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"fault_time":"02/01/2024 10:00"`)
}

func TestCloneMachines(t *testing.T) {
	mic := 3
	in := []MachineStatus{{MachineID: 1, MachineName: "A", MicIndex: &mic}}

	out := CloneMachines(in)
	out[0].MachineName = "B"
	*out[0].MicIndex = 9

	assert.Equal(t, "A", in[0].MachineName)
	assert.Equal(t, 3, *in[0].MicIndex)
	assert.Nil(t, CloneMachines(nil))
}
