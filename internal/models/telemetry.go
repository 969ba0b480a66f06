package models

// Machine running states reported by the backend.
const (
	MachineStatusRunning    = "RUNNING"
	MachineStatusNotRunning = "NOT RUNNING"
)

// Machine health states reported by the backend. HealthUnknown is sent for
// machines that are not running.
const (
	HealthHealthy = "HEALTHY"
	HealthFaulty  = "FAULTY"
	HealthUnknown = "-------"
)

// MachineStatus is one row of a telemetry snapshot.
type MachineStatus struct {
	MachineID   int64  `json:"machineId" msgpack:"machineId" yaml:"machineId"`
	MachineName string `json:"machine_name" msgpack:"machine_name" yaml:"machine_name"`
	Status      string `json:"status" msgpack:"status" yaml:"status"`
	Health      string `json:"health" msgpack:"health" yaml:"health"`
	Zone        string `json:"zone" msgpack:"zone" yaml:"zone"`

	// Extras carried verbatim when the backend sends them.
	MicIndex      *int   `json:"micIndex,omitempty" msgpack:"micIndex,omitempty" yaml:"micIndex,omitempty"`
	Time          string `json:"time,omitempty" msgpack:"time,omitempty" yaml:"time,omitempty"`
	AmplitudeMean string `json:"amplitudeMean,omitempty" msgpack:"amplitudeMean,omitempty" yaml:"amplitudeMean,omitempty"`
	RMSMean       string `json:"rmsMean,omitempty" msgpack:"rmsMean,omitempty" yaml:"rmsMean,omitempty"`
	ZCRMean       string `json:"zcrMean,omitempty" msgpack:"zcrMean,omitempty" yaml:"zcrMean,omitempty"`
}

// SnapshotPayload is the body of a full-snapshot push event.
type SnapshotPayload struct {
	Machine []MachineStatus `json:"machine" msgpack:"machine"`
}

// HandshakePayload is sent once after the push channel connects.
type HandshakePayload struct {
	Message string `json:"message"`
}

// CloneMachines returns a copy of the snapshot that shares no backing array
// with the input. A nil input stays nil.
func CloneMachines(in []MachineStatus) []MachineStatus {
	if in == nil {
		return nil
	}
	out := make([]MachineStatus, len(in))
	copy(out, in)
	for i := range out {
		if in[i].MicIndex != nil {
			v := *in[i].MicIndex
			out[i].MicIndex = &v
		}
	}
	return out
}
