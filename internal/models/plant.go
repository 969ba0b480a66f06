package models

// PlantPayload is the full configuration tree sent to the persistence
// collaborator on commit.
type PlantPayload struct {
	Username         string        `json:"username"`
	PlantName        string        `json:"plantName"`
	PlantDescription string        `json:"plantDescription"`
	Zones            []ZonePayload `json:"zones"`
}

// ZonePayload is one zone of a persisted plant.
type ZonePayload struct {
	ZoneName        string           `json:"zoneName" yaml:"zoneName"`
	ZoneDescription string           `json:"zoneDescription" yaml:"zoneDescription"`
	Machines        []MachinePayload `json:"machines" yaml:"machines"`
}

// MachinePayload is one machine of a persisted zone.
type MachinePayload struct {
	MachineID          int64  `json:"machineId" yaml:"machineId"`
	MachineName        string `json:"machineName" yaml:"machineName"`
	MicIndex           int    `json:"micIndex" yaml:"micIndex"`
	MachineDescription string `json:"machineDescription" yaml:"machineDescription"`
}

// PlantRecord is the persisted plant as returned by GET /plant.
type PlantRecord struct {
	PlantName        string        `json:"plantname" yaml:"plantname"`
	PlantDescription string        `json:"plantdescription" yaml:"plantdescription"`
	Zones            []ZonePayload `json:"zones" yaml:"zones"`
}

// PlantResponse wraps the GET /plant body. PlantData is nil when the
// operator has no plant yet.
type PlantResponse struct {
	PlantData *PlantRecord `json:"plantdata"`
}

// Record converts a commit payload into the shape the collaborator returns
// on the next load.
func (p PlantPayload) Record() PlantRecord {
	zones := make([]ZonePayload, len(p.Zones))
	copy(zones, p.Zones)
	return PlantRecord{
		PlantName:        p.PlantName,
		PlantDescription: p.PlantDescription,
		Zones:            zones,
	}
}
