package plant

import (
	"errors"
	"fmt"
)

var (
	ErrNotEditing      = errors.New("plant: not in editing mode")
	ErrNoZoneSelected  = errors.New("plant: no zone selected")
	ErrZoneNotFound    = errors.New("plant: zone not found")
	ErrMachineNotFound = errors.New("plant: machine not found in selected zone")
	ErrWrongPhase      = errors.New("plant: operation not valid in current phase")
	ErrNoDraft         = errors.New("plant: no open draft")
)

// ValidationError names the input field that failed validation. It is
// returned before any state change or network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plant: %s %s", e.Field, e.Reason)
}

func required(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}
