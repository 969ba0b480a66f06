package models

import "encoding/json"

// TimeFilter selects the aggregation window for machine analytics.
type TimeFilter string

const (
	TimeFilterDay   TimeFilter = "day"
	TimeFilterMonth TimeFilter = "month"
	TimeFilterYear  TimeFilter = "year"
)

// Valid reports whether f is one of the known filters.
func (f TimeFilter) Valid() bool {
	switch f {
	case TimeFilterDay, TimeFilterMonth, TimeFilterYear:
		return true
	}
	return false
}

// MachineAnalytics is the analytics collaborator's response. The series and
// plot fields are relayed verbatim; the console never interprets them.
type MachineAnalytics struct {
	MachineName          string          `json:"machine_name"`
	RunningPercentage    float64         `json:"running_percentage"`
	NotRunningPercentage float64         `json:"not_running_percentage"`
	HealthyPercentage    float64         `json:"healthy_percentage"`
	FaultyPercentage     float64         `json:"faulty_percentage"`
	NilPercentage        float64         `json:"nil_percentage"`
	FaultCounts          map[string]int  `json:"fault_counts"`
	AmplitudeMean        json.RawMessage `json:"amplitude_mean,omitempty"`
	RMSMean              json.RawMessage `json:"rms_mean,omitempty"`
	ZCRMean              json.RawMessage `json:"zcr_mean,omitempty"`
	TimeStamps           json.RawMessage `json:"time_stamps,omitempty"`
	Status               json.RawMessage `json:"status,omitempty"`
	HealthyPlot          string          `json:"healthy_plot,omitempty"`
	FaultyPlot           string          `json:"faulty_plot,omitempty"`
	NotRunningPlot       string          `json:"notrunning_plot,omitempty"`
}
