// fake_backend.go - Scriptable stand-in for the backend client
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/plantwatch/console/internal/analytics"
	"github.com/plantwatch/console/internal/faults"
	"github.com/plantwatch/console/internal/models"
	"github.com/plantwatch/console/internal/plant"
)

// Operation names accepted by Hold, Release and SetError.
const (
	OpLoadPlant   = "load-plant"
	OpSavePlant   = "save-plant"
	OpListFaults  = "list-faults"
	OpDeleteFault = "delete-fault"
	OpAnalytics   = "analytics"
)

// FakeBackend records calls and answers from in-memory data. Calls to a held
// operation block until it is released.
type FakeBackend struct {
	mu        sync.Mutex
	plants    map[string]*models.PlantRecord
	faults    map[string][]models.Fault
	analytics map[int64]models.MachineAnalytics
	errs      map[string]error
	gates     map[string]chan struct{}
	calls     map[string]int

	saves   []models.PlantPayload
	deletes []models.FaultID
	filters []models.TimeFilter
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		plants:    make(map[string]*models.PlantRecord),
		faults:    make(map[string][]models.Fault),
		analytics: make(map[int64]models.MachineAnalytics),
		errs:      make(map[string]error),
		gates:     make(map[string]chan struct{}),
		calls:     make(map[string]int),
	}
}

var (
	_ plant.Persister  = (*FakeBackend)(nil)
	_ faults.Service   = (*FakeBackend)(nil)
	_ analytics.Source = (*FakeBackend)(nil)
)

// Test Helper Methods

func (f *FakeBackend) SetPlant(username string, rec *models.PlantRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plants[username] = rec
}

func (f *FakeBackend) SetFaults(username string, list []models.Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[username] = append([]models.Fault(nil), list...)
}

func (f *FakeBackend) SetAnalytics(machineID int64, a models.MachineAnalytics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analytics[machineID] = a
}

// SetError makes op fail with err; nil restores success.
func (f *FakeBackend) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

// Hold makes later calls of op block until Release.
func (f *FakeBackend) Hold(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.gates[op]; !ok {
		f.gates[op] = make(chan struct{})
	}
}

// Release unblocks every held call of op.
func (f *FakeBackend) Release(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gate, ok := f.gates[op]; ok {
		close(gate)
		delete(f.gates, op)
	}
}

// Calls returns how many times op was invoked.
func (f *FakeBackend) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeBackend) Saves() []models.PlantPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PlantPayload(nil), f.saves...)
}

func (f *FakeBackend) Deletes() []models.FaultID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.FaultID(nil), f.deletes...)
}

func (f *FakeBackend) Filters() []models.TimeFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TimeFilter(nil), f.filters...)
}

// enter counts the call, waits on a held gate and returns the scripted error.
func (f *FakeBackend) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gates[op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}

func (f *FakeBackend) LoadPlant(ctx context.Context, username string) (*models.PlantRecord, error) {
	if err := f.enter(ctx, OpLoadPlant); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.plants[username]
	if !ok || rec == nil {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *FakeBackend) SavePlant(ctx context.Context, payload models.PlantPayload) error {
	f.mu.Lock()
	f.saves = append(f.saves, payload)
	f.mu.Unlock()

	if err := f.enter(ctx, OpSavePlant); err != nil {
		return err
	}
	rec := payload.Record()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plants[payload.Username] = &rec
	return nil
}

func (f *FakeBackend) ListFaults(ctx context.Context, username string) ([]models.Fault, error) {
	if err := f.enter(ctx, OpListFaults); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Fault{}, f.faults[username]...), nil
}

func (f *FakeBackend) DeleteFault(ctx context.Context, username string, id models.FaultID) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, id)
	f.mu.Unlock()

	if err := f.enter(ctx, OpDeleteFault); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.faults[username]
	for i, flt := range list {
		if flt.FaultID == id {
			f.faults[username] = append(append([]models.Fault(nil), list[:i]...), list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("fault %s not found", id)
}

func (f *FakeBackend) MachineAnalytics(ctx context.Context, username string, machineID int64, filter models.TimeFilter) (*models.MachineAnalytics, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()

	if err := f.enter(ctx, OpAnalytics); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.analytics[machineID]
	if !ok {
		return nil, fmt.Errorf("no analytics for machine %d", machineID)
	}
	return &a, nil
}
