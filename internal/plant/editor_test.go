package plant_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/plant"
	"github.com/plantwatch/console/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newEditor(t *testing.T, backend plant.Persister) *plant.Editor {
	t.Helper()
	minter := plant.NewIDMinter(func() time.Time { return fixedNow })
	e := plant.NewEditor("operator", backend, plant.WithMinter(minter))
	t.Cleanup(func() {
		e.Unmount()
		e.Wait()
	})
	return e
}

// editing returns an editor with a freshly created plant in editing mode.
func editing(t *testing.T, backend plant.Persister) *plant.Editor {
	t.Helper()
	e := newEditor(t, backend)
	require.NoError(t, e.BeginCreate())
	require.NoError(t, e.CreatePlant("North Plant", "Main site"))
	return e
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var ve *plant.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Field
}

func TestEditor_CreatePlant(t *testing.T) {
	t.Run("requires creating phase", func(t *testing.T) {
		e := newEditor(t, testutil.NewFakeBackend())
		assert.ErrorIs(t, e.CreatePlant("a", "b"), plant.ErrWrongPhase)
	})

	t.Run("blank fields rejected", func(t *testing.T) {
		e := newEditor(t, testutil.NewFakeBackend())
		require.NoError(t, e.BeginCreate())

		assert.Equal(t, "name", fieldOf(t, e.CreatePlant("   ", "desc")))
		assert.Equal(t, "description", fieldOf(t, e.CreatePlant("name", "")))
		assert.Equal(t, plant.PhaseCreating, e.View().Phase)
	})

	t.Run("enters editing", func(t *testing.T) {
		e := newEditor(t, testutil.NewFakeBackend())
		require.NoError(t, e.BeginCreate())
		require.NoError(t, e.CreatePlant("  North  ", " Main "))

		v := e.View()
		assert.Equal(t, plant.PhaseCreated, v.Phase)
		assert.True(t, v.Editing)
		assert.Equal(t, &plant.Plant{Name: "North", Description: "Main"}, v.Plant)
		assert.ErrorIs(t, e.BeginCreate(), plant.ErrWrongPhase)
	})
}

func TestEditor_FullFlow(t *testing.T) {
	backend := testutil.NewFakeBackend()
	e := editing(t, backend)

	z1, err := e.AddZone("Press Shop", "Stamping line")
	require.NoError(t, err)
	_, err = e.AddMachine("Press 1", "3", "Hydraulic press")
	require.NoError(t, err)
	_, err = e.AddMachine("Press 2", "4", "Servo press")
	require.NoError(t, err)

	z2, err := e.AddZone("Assembly", "Final assembly")
	require.NoError(t, err)
	_, err = e.AddMachine("Robot", "7", "Welding robot")
	require.NoError(t, err)

	v := e.View()
	require.Len(t, v.Zones, 2)
	assert.Equal(t, z2, v.SelectedZoneID)
	assert.Equal(t, 1, v.Zones[1].Index)
	assert.False(t, v.Zones[0].Selected)
	assert.True(t, v.Zones[1].Selected)
	require.Len(t, v.Machines, 1)
	assert.Equal(t, "Robot", v.Machines[0].Name)

	require.NoError(t, e.SelectZone(z1))
	v = e.View()
	require.Len(t, v.Machines, 2)
	assert.Equal(t, int64(1_700_000_000_000), v.Machines[0].MachineID)
	assert.Equal(t, int64(1_700_000_000_001), v.Machines[1].MachineID)

	seq, err := e.Save(context.Background())
	require.NoError(t, err)
	e.Wait()

	v = e.View()
	assert.False(t, v.Editing)
	assert.Equal(t, plant.CommitStatus{Seq: seq, State: plant.CommitCommitted}, v.Commit)
	for _, z := range v.Zones {
		assert.Equal(t, plant.SyncCommitted, z.Sync)
	}

	saves := backend.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, models.PlantPayload{
		Username:         "operator",
		PlantName:        "North Plant",
		PlantDescription: "Main site",
		Zones: []models.ZonePayload{
			{ZoneName: "Press Shop", ZoneDescription: "Stamping line", Machines: []models.MachinePayload{
				{MachineID: 1_700_000_000_000, MachineName: "Press 1", MicIndex: 3, MachineDescription: "Hydraulic press"},
				{MachineID: 1_700_000_000_001, MachineName: "Press 2", MicIndex: 4, MachineDescription: "Servo press"},
			}},
			{ZoneName: "Assembly", ZoneDescription: "Final assembly", Machines: []models.MachinePayload{
				{MachineID: 1_700_000_000_002, MachineName: "Robot", MicIndex: 7, MachineDescription: "Welding robot"},
			}},
		},
	}, saves[0])
	assert.Equal(t, saves[0], e.Payload())
}

func TestEditor_RequiresEditing(t *testing.T) {
	e := editing(t, testutil.NewFakeBackend())
	z, err := e.AddZone("Z", "D")
	require.NoError(t, err)
	_, err = e.Save(context.Background())
	require.NoError(t, err)
	e.Wait()

	_, err = e.AddZone("Z2", "D2")
	assert.ErrorIs(t, err, plant.ErrNotEditing)
	_, err = e.AddMachine("M", "1", "D")
	assert.ErrorIs(t, err, plant.ErrNotEditing)
	assert.ErrorIs(t, e.BeginZoneEdit(z), plant.ErrNotEditing)
	_, err = e.Save(context.Background())
	assert.ErrorIs(t, err, plant.ErrNotEditing)

	// Selection works outside of editing.
	e.ClearSelection()
	assert.Empty(t, e.View().SelectedZoneID)
	require.NoError(t, e.SelectZone(z))
	assert.ErrorIs(t, e.SelectZone("missing"), plant.ErrZoneNotFound)

	require.NoError(t, e.Edit())
	_, err = e.AddZone("Z2", "D2")
	assert.NoError(t, err)
}

func TestEditor_AddMachineValidation(t *testing.T) {
	backend := testutil.NewFakeBackend()
	e := editing(t, backend)

	_, err := e.AddMachine("M", "1", "D")
	assert.ErrorIs(t, err, plant.ErrNoZoneSelected)

	_, err = e.AddZone("Z", "D")
	require.NoError(t, err)

	tests := []struct {
		name, machine, mic, desc string
		field                    string
	}{
		{"blank name", " ", "1", "D", "machineName"},
		{"blank mic", "M", "", "D", "micIndex"},
		{"non-integer mic", "M", "3a", "D", "micIndex"},
		{"blank description", "M", "1", "\t", "machineDescription"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddMachine(tt.machine, tt.mic, tt.desc)
			assert.Equal(t, tt.field, fieldOf(t, err))
		})
	}

	assert.Empty(t, e.View().Machines)
	assert.Zero(t, backend.Calls(testutil.OpSavePlant))
}

func TestEditor_AddZoneValidation(t *testing.T) {
	e := editing(t, testutil.NewFakeBackend())

	_, err := e.AddZone("", "D")
	assert.Equal(t, "zoneName", fieldOf(t, err))
	_, err = e.AddZone("Z", "  ")
	assert.Equal(t, "zoneDescription", fieldOf(t, err))
	assert.Empty(t, e.View().Zones)
}

func TestEditor_CommitFailureKeepsTree(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.SetError(testutil.OpSavePlant, errors.New("backend down"))
	e := editing(t, backend)

	_, err := e.AddZone("Z", "D")
	require.NoError(t, err)
	_, err = e.AddMachine("M", "1", "MD")
	require.NoError(t, err)

	_, err = e.Save(context.Background())
	require.NoError(t, err)
	e.Wait()

	v := e.View()
	assert.Equal(t, plant.CommitFailed, v.Commit.State)
	assert.Contains(t, v.Commit.Err, "backend down")
	require.Len(t, v.Zones, 1)
	assert.Equal(t, plant.SyncFailed, v.Zones[0].Sync)
	require.Len(t, v.Machines, 1)
	assert.Equal(t, plant.SyncFailed, v.Machines[0].Sync)
	assert.False(t, v.Editing)
}

func TestEditor_PendingWhileInFlight(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.Hold(testutil.OpSavePlant)
	e := editing(t, backend)

	_, err := e.AddZone("Z", "D")
	require.NoError(t, err)
	_, err = e.Save(context.Background())
	require.NoError(t, err)

	v := e.View()
	assert.Equal(t, plant.CommitPending, v.Commit.State)
	assert.Equal(t, plant.SyncPending, v.Zones[0].Sync)

	// A zone added while the commit is in flight stays a draft.
	require.NoError(t, e.Edit())
	_, err = e.AddZone("Z2", "D2")
	require.NoError(t, err)

	backend.Release(testutil.OpSavePlant)
	e.Wait()

	v = e.View()
	assert.Equal(t, plant.SyncCommitted, v.Zones[0].Sync)
	assert.Equal(t, plant.SyncDraft, v.Zones[1].Sync)
}

// orderedPersister lets a test answer SavePlant calls in any order.
type orderedPersister struct {
	replies chan chan error
}

func (p *orderedPersister) LoadPlant(context.Context, string) (*models.PlantRecord, error) {
	return nil, nil
}

func (p *orderedPersister) SavePlant(ctx context.Context, _ models.PlantPayload) error {
	reply := make(chan error)
	p.replies <- reply
	return <-reply
}

func TestEditor_StaleCommitDiscarded(t *testing.T) {
	p := &orderedPersister{replies: make(chan chan error)}
	e := editing(t, p)
	_, err := e.AddZone("Z", "D")
	require.NoError(t, err)

	_, err = e.Save(context.Background())
	require.NoError(t, err)
	first := <-p.replies

	require.NoError(t, e.Edit())
	second, err := e.Save(context.Background())
	require.NoError(t, err)
	latest := <-p.replies

	latest <- nil
	first <- errors.New("late rejection")
	e.Wait()

	v := e.View()
	assert.Equal(t, plant.CommitStatus{Seq: second, State: plant.CommitCommitted}, v.Commit)
	assert.Equal(t, plant.SyncCommitted, v.Zones[0].Sync)
}

func TestEditor_Mount(t *testing.T) {
	loaded := &models.PlantRecord{
		PlantName:        "Riverside",
		PlantDescription: "Works",
		Zones: []models.ZonePayload{
			{ZoneName: "A", ZoneDescription: "a", Machines: []models.MachinePayload{
				{MachineID: 1_800_000_000_000, MachineName: "M", MicIndex: 2, MachineDescription: "m"},
			}},
			{ZoneName: "B", ZoneDescription: "b", Machines: []models.MachinePayload{}},
		},
	}

	t.Run("loads and selects first zone", func(t *testing.T) {
		backend := testutil.NewFakeBackend()
		backend.SetPlant("operator", loaded)
		e := newEditor(t, backend)

		e.Mount(context.Background())
		e.Wait()

		v := e.View()
		assert.Equal(t, plant.PhaseCreated, v.Phase)
		assert.False(t, v.Editing)
		assert.Equal(t, "Riverside", v.Plant.Name)
		require.Len(t, v.Zones, 2)
		assert.Equal(t, v.Zones[0].ID, v.SelectedZoneID)
		require.Len(t, v.Machines, 1)
		assert.Equal(t, plant.SyncCommitted, v.Machines[0].Sync)
		assert.Equal(t, loaded.Zones, e.Payload().Zones)
	})

	t.Run("new ids never collide with loaded ones", func(t *testing.T) {
		backend := testutil.NewFakeBackend()
		backend.SetPlant("operator", loaded)
		e := newEditor(t, backend)
		e.Mount(context.Background())
		e.Wait()

		require.NoError(t, e.Edit())
		_, err := e.AddMachine("N", "1", "n")
		require.NoError(t, err)
		ms := e.View().Machines
		require.Len(t, ms, 2)
		assert.Equal(t, int64(1_800_000_000_001), ms[1].MachineID)
	})

	t.Run("no plant stays uninitialized", func(t *testing.T) {
		e := newEditor(t, testutil.NewFakeBackend())
		e.Mount(context.Background())
		e.Wait()
		assert.Equal(t, plant.PhaseUninitialized, e.View().Phase)
	})

	t.Run("load error stays uninitialized", func(t *testing.T) {
		backend := testutil.NewFakeBackend()
		backend.SetError(testutil.OpLoadPlant, errors.New("boom"))
		e := newEditor(t, backend)
		e.Mount(context.Background())
		e.Wait()
		assert.Equal(t, plant.PhaseUninitialized, e.View().Phase)
	})

	t.Run("response after unmount discarded", func(t *testing.T) {
		backend := testutil.NewFakeBackend()
		backend.SetPlant("operator", loaded)
		backend.Hold(testutil.OpLoadPlant)
		e := newEditor(t, backend)

		e.Mount(context.Background())
		e.Unmount()
		backend.Release(testutil.OpLoadPlant)
		e.Wait()

		assert.Equal(t, plant.PhaseUninitialized, e.View().Phase)
		assert.Empty(t, e.View().Zones)
	})

	t.Run("local creation wins over late load", func(t *testing.T) {
		backend := testutil.NewFakeBackend()
		backend.SetPlant("operator", loaded)
		backend.Hold(testutil.OpLoadPlant)
		e := newEditor(t, backend)

		e.Mount(context.Background())
		require.NoError(t, e.BeginCreate())
		require.NoError(t, e.CreatePlant("Local", "Mine"))
		backend.Release(testutil.OpLoadPlant)
		e.Wait()

		v := e.View()
		assert.Equal(t, "Local", v.Plant.Name)
		assert.True(t, v.Editing)
		assert.Empty(t, v.Zones)
	})
}

func TestEditor_SelectionClearsMachineDraft(t *testing.T) {
	e := editing(t, testutil.NewFakeBackend())
	z1, err := e.AddZone("Z1", "D1")
	require.NoError(t, err)
	key, err := e.AddMachine("M", "1", "D")
	require.NoError(t, err)
	z2, err := e.AddZone("Z2", "D2")
	require.NoError(t, err)

	require.NoError(t, e.SelectZone(z1))
	require.NoError(t, e.BeginMachineEdit(key))
	require.NotNil(t, e.View().MachineDraft)

	// Reselecting the same zone keeps the draft.
	require.NoError(t, e.SelectZone(z1))
	assert.NotNil(t, e.View().MachineDraft)

	require.NoError(t, e.SelectZone(z2))
	assert.Nil(t, e.View().MachineDraft)
	assert.ErrorIs(t, e.BeginMachineEdit(key), plant.ErrMachineNotFound)
}

func TestEditor_ZoneDraft(t *testing.T) {
	e := editing(t, testutil.NewFakeBackend())
	z, err := e.AddZone("Z", "D")
	require.NoError(t, err)

	assert.ErrorIs(t, e.SaveZoneEdit(), plant.ErrNoDraft)
	assert.ErrorIs(t, e.BeginZoneEdit("nope"), plant.ErrZoneNotFound)

	require.NoError(t, e.BeginZoneEdit(z))
	v := e.View()
	assert.Equal(t, &plant.ZoneDraft{ZoneID: z, Name: "Z", Description: "D"}, v.ZoneDraft)
	assert.True(t, v.Zones[0].Editing)

	require.NoError(t, e.SetZoneDraft("", "D"))
	assert.Equal(t, "zoneName", fieldOf(t, e.SaveZoneEdit()))
	assert.NotNil(t, e.View().ZoneDraft, "invalid save keeps the draft open")

	require.NoError(t, e.SetZoneDraft("Renamed", "New desc"))
	require.NoError(t, e.SaveZoneEdit())

	v = e.View()
	assert.Nil(t, v.ZoneDraft)
	assert.Equal(t, "Renamed", v.Zones[0].Name)
	assert.Equal(t, "New desc", v.Zones[0].Description)

	require.NoError(t, e.BeginZoneEdit(z))
	require.NoError(t, e.SetZoneDraft("Throwaway", "x"))
	e.CancelZoneEdit()
	assert.Equal(t, "Renamed", e.View().Zones[0].Name)
}

func TestEditor_MachineDraft(t *testing.T) {
	e := editing(t, testutil.NewFakeBackend())
	_, err := e.AddZone("Z", "D")
	require.NoError(t, err)
	key, err := e.AddMachine("M", "1", "D")
	require.NoError(t, err)

	require.NoError(t, e.BeginMachineEdit(key))
	assert.Equal(t, &plant.MachineDraft{Key: key, Name: "M", MicIndex: "1", Description: "D"}, e.View().MachineDraft)

	require.NoError(t, e.SetMachineDraft("M2", "x", "D2"))
	assert.Equal(t, "micIndex", fieldOf(t, e.SaveMachineEdit()))

	require.NoError(t, e.SetMachineDraft("M2", "9", "D2"))
	require.NoError(t, e.SaveMachineEdit())

	m := e.View().Machines[0]
	assert.Equal(t, "M2", m.Name)
	assert.Equal(t, 9, m.MicIndex)
	assert.Equal(t, int64(1_700_000_000_000), m.MachineID)

	e.CancelMachineEdit()
	assert.ErrorIs(t, e.SetMachineDraft("a", "1", "b"), plant.ErrNoDraft)
}

func TestEditor_SaveDiscardsDrafts(t *testing.T) {
	e := editing(t, testutil.NewFakeBackend())
	z, err := e.AddZone("Z", "D")
	require.NoError(t, err)
	require.NoError(t, e.BeginZoneEdit(z))
	require.NoError(t, e.SetZoneDraft("Unsaved", "x"))

	_, err = e.Save(context.Background())
	require.NoError(t, err)
	e.Wait()

	v := e.View()
	assert.Nil(t, v.ZoneDraft)
	assert.Equal(t, "Z", v.Zones[0].Name)
}

func TestEditor_ViewIsACopy(t *testing.T) {
	e := editing(t, testutil.NewFakeBackend())
	_, err := e.AddZone("Z", "D")
	require.NoError(t, err)
	_, err = e.AddMachine("M", "1", "D")
	require.NoError(t, err)

	before := e.View()
	before.Zones[0].Name = "mutated"
	before.Machines[0].Name = "mutated"
	before.Plant.Name = "mutated"

	after := e.View()
	assert.Equal(t, "Z", after.Zones[0].Name)
	assert.Equal(t, "M", after.Machines[0].Name)
	assert.Equal(t, "North Plant", after.Plant.Name)

	// Adding a zone does not change a view taken earlier.
	_, err = e.AddZone("Z2", "D2")
	require.NoError(t, err)
	assert.Len(t, after.Zones, 1)
}

func TestIDMinter(t *testing.T) {
	now := fixedNow
	m := plant.NewIDMinter(func() time.Time { return now })

	assert.Equal(t, int64(1_700_000_000_000), m.Next())
	assert.Equal(t, int64(1_700_000_000_001), m.Next())

	now = now.Add(time.Second)
	assert.Equal(t, int64(1_700_000_001_000), m.Next())

	m.Observe(1_900_000_000_000)
	assert.Equal(t, int64(1_900_000_000_001), m.Next())

	m.Observe(5)
	assert.Equal(t, int64(1_900_000_000_002), m.Next())
}
