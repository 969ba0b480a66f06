package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FaultID identifies a fault record. The backend may encode it as a JSON
// string or a JSON number; both decode to the same textual id.
type FaultID string

// UnmarshalJSON accepts either a string or a number.
func (id *FaultID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("fault id: %w", err)
		}
		*id = FaultID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("fault id: %w", err)
	}
	*id = FaultID(n.String())
	return nil
}

// timestampLayouts are tried in order when decoding fault times.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// Timestamp is a fault time that tolerates the formats the backend emits.
// A time in no accepted layout decodes as the zero time and keeps its text.
type Timestamp struct {
	time.Time
	raw string
}

// Unparsed returns the original text of a time that could not be parsed, or
// "" when the time was understood.
func (t Timestamp) Unparsed() string { return t.raw }

// ParseTimestamp parses s using the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// MustTimestamp is ParseTimestamp for literals; it panics on bad input.
func MustTimestamp(s string) Timestamp {
	ts, err := ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// UnmarshalJSON decodes a timestamp string in any accepted layout.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("fault time: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		*t = Timestamp{raw: s}
		return nil
	}
	*t = ts
	return nil
}

// MarshalJSON encodes the timestamp as RFC 3339. An unparsed time is echoed
// as received.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.raw != "" {
		return json.Marshal(t.raw)
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// Fault is one logged anomaly event.
type Fault struct {
	FaultID     FaultID   `json:"fault_id"`
	MachineName string    `json:"machine name"`
	FaultTime   Timestamp `json:"fault_time"`
}

// FaultsResponse wraps the GET /faults body.
type FaultsResponse struct {
	Faults []Fault `json:"faults"`
}
