// Package plant edits an operator's Plant/Zone/Machine configuration tree and
// commits it to the persistence backend.
package plant

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/metrics"
	"github.com/plantwatch/console/internal/models"
	"github.com/rs/zerolog"
)

// Persister loads and stores the configuration tree.
type Persister interface {
	LoadPlant(ctx context.Context, username string) (*models.PlantRecord, error)
	SavePlant(ctx context.Context, payload models.PlantPayload) error
}

// Phase is the plant's lifecycle position.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseCreating      Phase = "creating"
	PhaseCreated       Phase = "created"
)

// SyncState tracks an entity against the last commit.
type SyncState string

const (
	SyncDraft     SyncState = "draft"
	SyncPending   SyncState = "pending"
	SyncCommitted SyncState = "committed"
	SyncFailed    SyncState = "failed"
)

// CommitState is the outcome of a Save.
type CommitState string

const (
	CommitNone      CommitState = "none"
	CommitPending   CommitState = "pending"
	CommitCommitted CommitState = "committed"
	CommitFailed    CommitState = "failed"
)

// CommitStatus reports the outcome of the latest Save.
type CommitStatus struct {
	Seq   uint64      `json:"seq"`
	State CommitState `json:"state"`
	Err   string      `json:"error,omitempty"`
}

// Plant is the operator's singleton plant header.
type Plant struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type zone struct {
	id          ZoneID
	name        string
	description string
	machines    []MachineKey
	sync        SyncState
}

type machine struct {
	key         MachineKey
	machineID   int64
	name        string
	micIndex    int
	description string
	sync        SyncState
}

// ZoneDraft holds in-progress edits of one zone.
type ZoneDraft struct {
	ZoneID      ZoneID `json:"zoneId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MachineDraft holds in-progress edits of one machine. MicIndex stays text
// until the draft is saved.
type MachineDraft struct {
	Key         MachineKey `json:"key"`
	Name        string     `json:"name"`
	MicIndex    string     `json:"micIndex"`
	Description string     `json:"description"`
}

// Option configures an Editor.
type Option func(*Editor)

func WithLogger(l zerolog.Logger) Option    { return func(e *Editor) { e.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Editor) { e.metrics = m } }
func WithMinter(m *IDMinter) Option         { return func(e *Editor) { e.minter = m } }

// Editor holds one operator's configuration tree for one mount of the plant
// view. All methods are safe for concurrent use; each runs to completion
// under the editor's lock.
type Editor struct {
	username  string
	persister Persister
	minter    *IDMinter
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	inflight sync.WaitGroup
	closed   bool

	phase   Phase
	editing bool
	plant   Plant

	order    []ZoneID
	zones    map[ZoneID]zone
	machines map[MachineKey]machine
	selected ZoneID

	zoneDraft    *ZoneDraft
	machineDraft *MachineDraft

	loadSeq   uint64
	commitSeq uint64
	commit    CommitStatus
}

func NewEditor(username string, persister Persister, opts ...Option) *Editor {
	e := &Editor{
		username:  username,
		persister: persister,
		minter:    ProcessMinter(),
		log:       logger.WithComponent("plant"),
		phase:     PhaseUninitialized,
		zones:     make(map[ZoneID]zone),
		machines:  make(map[MachineKey]machine),
		commit:    CommitStatus{State: CommitNone},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("username", username).Logger()
	return e
}

// Mount starts loading the persisted plant. It returns without waiting; the
// result is applied only if the editor is still mounted and still has not
// started a plant of its own.
func (e *Editor) Mount(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.loadSeq++
	seq := e.loadSeq
	e.inflight.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.inflight.Done()

		rec, err := e.persister.LoadPlant(context.WithoutCancel(ctx), e.username)

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.closed || seq != e.loadSeq {
			e.log.Debug().Msg("discarding stale plant load")
			return
		}
		if err != nil {
			e.log.Error().Err(err).Msg("loading plant")
			return
		}
		if rec == nil {
			e.log.Debug().Msg("no persisted plant")
			return
		}
		if e.phase != PhaseUninitialized {
			e.log.Debug().Str("phase", string(e.phase)).Msg("plant started locally, ignoring load")
			return
		}
		e.applyRecord(*rec)
	}()
}

// applyRecord replaces the tree with a persisted record. Caller holds mu.
func (e *Editor) applyRecord(rec models.PlantRecord) {
	order := make([]ZoneID, 0, len(rec.Zones))
	zones := make(map[ZoneID]zone, len(rec.Zones))
	machines := make(map[MachineKey]machine)

	for _, zp := range rec.Zones {
		z := zone{
			id:          newZoneID(),
			name:        zp.ZoneName,
			description: zp.ZoneDescription,
			machines:    make([]MachineKey, 0, len(zp.Machines)),
			sync:        SyncCommitted,
		}
		for _, mp := range zp.Machines {
			m := machine{
				key:         newMachineKey(),
				machineID:   mp.MachineID,
				name:        mp.MachineName,
				micIndex:    mp.MicIndex,
				description: mp.MachineDescription,
				sync:        SyncCommitted,
			}
			e.minter.Observe(mp.MachineID)
			machines[m.key] = m
			z.machines = append(z.machines, m.key)
		}
		zones[z.id] = z
		order = append(order, z.id)
	}

	e.plant = Plant{Name: rec.PlantName, Description: rec.PlantDescription}
	e.order = order
	e.zones = zones
	e.machines = machines
	e.phase = PhaseCreated
	e.editing = false
	e.zoneDraft = nil
	e.machineDraft = nil
	e.selected = ""
	if len(order) > 0 {
		e.selected = order[0]
	}

	e.log.Info().Int("zones", len(order)).Int("machines", len(machines)).Msg("plant loaded")
}

// Unmount stops in-flight responses from touching state.
func (e *Editor) Unmount() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Wait blocks until every in-flight backend call has returned and its result
// has been applied or discarded.
func (e *Editor) Wait() {
	e.inflight.Wait()
}

// BeginCreate opens the plant creation form.
func (e *Editor) BeginCreate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseUninitialized {
		return ErrWrongPhase
	}
	e.phase = PhaseCreating
	return nil
}

// CreatePlant creates the plant and enters editing mode.
func (e *Editor) CreatePlant(name, description string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseCreating {
		return ErrWrongPhase
	}
	name, description = strings.TrimSpace(name), strings.TrimSpace(description)
	if name == "" {
		return required("name")
	}
	if description == "" {
		return required("description")
	}

	e.plant = Plant{Name: name, Description: description}
	e.phase = PhaseCreated
	e.editing = true
	return nil
}

// Edit enters editing mode.
func (e *Editor) Edit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseCreated {
		return ErrWrongPhase
	}
	e.editing = true
	return nil
}

// Save leaves editing mode and commits the tree in the background. Open
// drafts are discarded. The returned sequence identifies this commit in
// CommitStatus.
func (e *Editor) Save(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	if e.phase != PhaseCreated || !e.editing {
		e.mu.Unlock()
		return 0, ErrNotEditing
	}

	e.editing = false
	e.zoneDraft = nil
	e.machineDraft = nil

	e.commitSeq++
	seq := e.commitSeq
	e.markAll(SyncPending)
	e.commit = CommitStatus{Seq: seq, State: CommitPending}
	payload := e.payloadLocked()
	e.inflight.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.inflight.Done()

		err := e.persister.SavePlant(context.WithoutCancel(ctx), payload)
		e.metrics.PlantCommit(err)

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.closed {
			if err != nil {
				e.log.Error().Err(err).Uint64("seq", seq).Msg("commit failed after unmount")
			}
			return
		}
		if seq != e.commitSeq {
			e.log.Debug().Uint64("seq", seq).Msg("discarding stale commit result")
			return
		}

		if err != nil {
			e.log.Error().Err(err).Uint64("seq", seq).Msg("committing plant")
			e.settlePending(SyncFailed)
			e.commit = CommitStatus{Seq: seq, State: CommitFailed, Err: err.Error()}
			return
		}
		e.settlePending(SyncCommitted)
		e.commit = CommitStatus{Seq: seq, State: CommitCommitted}
		e.log.Info().Uint64("seq", seq).Int("zones", len(payload.Zones)).Msg("plant committed")
	}()

	return seq, nil
}

// markAll sets every entity's sync state. Caller holds mu.
func (e *Editor) markAll(s SyncState) {
	for id, z := range e.zones {
		z.sync = s
		e.zones[id] = z
	}
	for key, m := range e.machines {
		m.sync = s
		e.machines[key] = m
	}
}

// settlePending resolves entities untouched since the commit. Caller holds mu.
func (e *Editor) settlePending(s SyncState) {
	for id, z := range e.zones {
		if z.sync == SyncPending {
			z.sync = s
			e.zones[id] = z
		}
	}
	for key, m := range e.machines {
		if m.sync == SyncPending {
			m.sync = s
			e.machines[key] = m
		}
	}
}

// AddZone appends a zone and selects it.
func (e *Editor) AddZone(name, description string) (ZoneID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isEditing() {
		return "", ErrNotEditing
	}
	name, description = strings.TrimSpace(name), strings.TrimSpace(description)
	if name == "" {
		return "", required("zoneName")
	}
	if description == "" {
		return "", required("zoneDescription")
	}

	z := zone{
		id:          newZoneID(),
		name:        name,
		description: description,
		machines:    []MachineKey{},
		sync:        SyncDraft,
	}
	e.zones[z.id] = z
	e.order = appendZoneID(e.order, z.id)
	e.selectLocked(z.id)

	return z.id, nil
}

// SelectZone makes id the selected zone. Selection does not require editing.
func (e *Editor) SelectZone(id ZoneID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.zones[id]; !ok {
		return ErrZoneNotFound
	}
	e.selectLocked(id)
	return nil
}

func (e *Editor) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selectLocked("")
}

// selectLocked changes selection; a machine draft never outlives its zone.
func (e *Editor) selectLocked(id ZoneID) {
	if id != e.selected {
		e.machineDraft = nil
	}
	e.selected = id
}

// AddMachine appends a machine to the selected zone.
func (e *Editor) AddMachine(name, micIndex, description string) (MachineKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isEditing() {
		return "", ErrNotEditing
	}
	z, ok := e.zones[e.selected]
	if e.selected == "" || !ok {
		return "", ErrNoZoneSelected
	}

	name, mic, description, err := validateMachine(name, micIndex, description)
	if err != nil {
		return "", err
	}

	m := machine{
		key:         newMachineKey(),
		machineID:   e.minter.Next(),
		name:        name,
		micIndex:    mic,
		description: description,
		sync:        SyncDraft,
	}
	e.machines[m.key] = m

	z.machines = appendMachineKey(z.machines, m.key)
	z.sync = SyncDraft
	e.zones[z.id] = z

	return m.key, nil
}

func validateMachine(name, micIndex, description string) (string, int, string, error) {
	name = strings.TrimSpace(name)
	micIndex = strings.TrimSpace(micIndex)
	description = strings.TrimSpace(description)

	if name == "" {
		return "", 0, "", required("machineName")
	}
	if micIndex == "" {
		return "", 0, "", required("micIndex")
	}
	mic, err := strconv.Atoi(micIndex)
	if err != nil {
		return "", 0, "", &ValidationError{Field: "micIndex", Reason: "must be an integer"}
	}
	if description == "" {
		return "", 0, "", required("machineDescription")
	}
	return name, mic, description, nil
}

// BeginZoneEdit opens a draft of zone id, replacing any open zone draft.
func (e *Editor) BeginZoneEdit(id ZoneID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isEditing() {
		return ErrNotEditing
	}
	z, ok := e.zones[id]
	if !ok {
		return ErrZoneNotFound
	}
	e.zoneDraft = &ZoneDraft{ZoneID: id, Name: z.name, Description: z.description}
	return nil
}

func (e *Editor) SetZoneDraft(name, description string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.zoneDraft == nil {
		return ErrNoDraft
	}
	e.zoneDraft = &ZoneDraft{ZoneID: e.zoneDraft.ZoneID, Name: name, Description: description}
	return nil
}

// SaveZoneEdit writes the draft back to its zone and closes it.
func (e *Editor) SaveZoneEdit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.zoneDraft
	if d == nil {
		return ErrNoDraft
	}
	z, ok := e.zones[d.ZoneID]
	if !ok {
		e.zoneDraft = nil
		return ErrZoneNotFound
	}
	name, description := strings.TrimSpace(d.Name), strings.TrimSpace(d.Description)
	if name == "" {
		return required("zoneName")
	}
	if description == "" {
		return required("zoneDescription")
	}

	z.name, z.description, z.sync = name, description, SyncDraft
	e.zones[z.id] = z
	e.zoneDraft = nil
	return nil
}

func (e *Editor) CancelZoneEdit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zoneDraft = nil
}

// BeginMachineEdit opens a draft of a machine in the selected zone.
func (e *Editor) BeginMachineEdit(key MachineKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isEditing() {
		return ErrNotEditing
	}
	z, ok := e.zones[e.selected]
	if !ok {
		return ErrNoZoneSelected
	}
	if !containsKey(z.machines, key) {
		return ErrMachineNotFound
	}
	m := e.machines[key]
	e.machineDraft = &MachineDraft{
		Key:         key,
		Name:        m.name,
		MicIndex:    strconv.Itoa(m.micIndex),
		Description: m.description,
	}
	return nil
}

func (e *Editor) SetMachineDraft(name, micIndex, description string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machineDraft == nil {
		return ErrNoDraft
	}
	e.machineDraft = &MachineDraft{Key: e.machineDraft.Key, Name: name, MicIndex: micIndex, Description: description}
	return nil
}

// SaveMachineEdit validates the draft and writes it back to its machine.
func (e *Editor) SaveMachineEdit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.machineDraft
	if d == nil {
		return ErrNoDraft
	}
	m, ok := e.machines[d.Key]
	if !ok {
		e.machineDraft = nil
		return ErrMachineNotFound
	}
	name, mic, description, err := validateMachine(d.Name, d.MicIndex, d.Description)
	if err != nil {
		return err
	}

	m.name, m.micIndex, m.description, m.sync = name, mic, description, SyncDraft
	e.machines[m.key] = m
	e.machineDraft = nil
	return nil
}

func (e *Editor) CancelMachineEdit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machineDraft = nil
}

// Payload builds the persistence payload for the current tree.
func (e *Editor) Payload() models.PlantPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payloadLocked()
}

func (e *Editor) payloadLocked() models.PlantPayload {
	zones := make([]models.ZonePayload, 0, len(e.order))
	for _, id := range e.order {
		z := e.zones[id]
		machines := make([]models.MachinePayload, 0, len(z.machines))
		for _, key := range z.machines {
			m := e.machines[key]
			machines = append(machines, models.MachinePayload{
				MachineID:          m.machineID,
				MachineName:        m.name,
				MicIndex:           m.micIndex,
				MachineDescription: m.description,
			})
		}
		zones = append(zones, models.ZonePayload{
			ZoneName:        z.name,
			ZoneDescription: z.description,
			Machines:        machines,
		})
	}

	return models.PlantPayload{
		Username:         e.username,
		PlantName:        e.plant.Name,
		PlantDescription: e.plant.Description,
		Zones:            zones,
	}
}

func (e *Editor) isEditing() bool {
	return e.phase == PhaseCreated && e.editing
}

// appendZoneID returns a new slice; ids is never written.
func appendZoneID(ids []ZoneID, id ZoneID) []ZoneID {
	out := make([]ZoneID, len(ids), len(ids)+1)
	copy(out, ids)
	return append(out, id)
}

func appendMachineKey(keys []MachineKey, key MachineKey) []MachineKey {
	out := make([]MachineKey, len(keys), len(keys)+1)
	copy(out, keys)
	return append(out, key)
}

func containsKey(keys []MachineKey, key MachineKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
