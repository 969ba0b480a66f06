package plant

type ZoneView struct {
	ID           ZoneID    `json:"id"`
	Index        int       `json:"index"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Selected     bool      `json:"selected"`
	Editing      bool      `json:"editing"`
	MachineCount int       `json:"machineCount"`
	Sync         SyncState `json:"sync"`
}

type MachineView struct {
	Key         MachineKey `json:"key"`
	MachineID   int64      `json:"machineId"`
	Name        string     `json:"name"`
	MicIndex    int        `json:"micIndex"`
	Description string     `json:"description"`
	Editing     bool       `json:"editing"`
	Sync        SyncState  `json:"sync"`
}

// View is a point-in-time copy of the editor. Nothing in it aliases editor
// state.
type View struct {
	Phase          Phase         `json:"phase"`
	Editing        bool          `json:"editing"`
	Plant          *Plant        `json:"plant"`
	Zones          []ZoneView    `json:"zones"`
	SelectedZoneID ZoneID        `json:"selectedZoneId,omitempty"`
	Machines       []MachineView `json:"machines"`
	ZoneDraft      *ZoneDraft    `json:"zoneDraft,omitempty"`
	MachineDraft   *MachineDraft `json:"machineDraft,omitempty"`
	Commit         CommitStatus  `json:"commit"`
}

// View returns the current state. Machines lists the selected zone only.
func (e *Editor) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := View{
		Phase:          e.phase,
		Editing:        e.editing,
		Zones:          make([]ZoneView, 0, len(e.order)),
		SelectedZoneID: e.selected,
		Machines:       []MachineView{},
		Commit:         e.commit,
	}
	if e.phase == PhaseCreated {
		p := e.plant
		v.Plant = &p
	}

	for i, id := range e.order {
		z := e.zones[id]
		v.Zones = append(v.Zones, ZoneView{
			ID:           z.id,
			Index:        i,
			Name:         z.name,
			Description:  z.description,
			Selected:     z.id == e.selected,
			Editing:      e.zoneDraft != nil && e.zoneDraft.ZoneID == z.id,
			MachineCount: len(z.machines),
			Sync:         z.sync,
		})
	}

	if z, ok := e.zones[e.selected]; ok {
		for _, key := range z.machines {
			m := e.machines[key]
			v.Machines = append(v.Machines, MachineView{
				Key:         m.key,
				MachineID:   m.machineID,
				Name:        m.name,
				MicIndex:    m.micIndex,
				Description: m.description,
				Editing:     e.machineDraft != nil && e.machineDraft.Key == m.key,
				Sync:        m.sync,
			})
		}
	}

	if e.zoneDraft != nil {
		d := *e.zoneDraft
		v.ZoneDraft = &d
	}
	if e.machineDraft != nil {
		d := *e.machineDraft
		v.MachineDraft = &d
	}
	return v
}
