// Package faults manages an operator's fault notification feed: loading,
// client-side sorting and optimistic deletion.
package faults

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/metrics"
	"github.com/plantwatch/console/internal/models"
	"github.com/rs/zerolog"
)

// DefaultDeleteDelay is how long a record shows as deleting before the
// request is sent.
const DefaultDeleteDelay = 500 * time.Millisecond

var (
	ErrNotFound         = errors.New("faults: fault not found")
	ErrDeleteInProgress = errors.New("faults: delete already in progress")
)

// Service lists and deletes faults.
type Service interface {
	ListFaults(ctx context.Context, username string) ([]models.Fault, error)
	DeleteFault(ctx context.Context, username string, id models.FaultID) error
}

// FaultItem is one displayed record.
type FaultItem struct {
	models.Fault
	Deleting     bool `json:"deleting"`
	DeleteFailed bool `json:"deleteFailed"`
}

type Option func(*Feed)

func WithLogger(l zerolog.Logger) Option        { return func(f *Feed) { f.log = l } }
func WithMetrics(m *metrics.Metrics) Option     { return func(f *Feed) { f.metrics = m } }
func WithDeleteDelay(d time.Duration) Option    { return func(f *Feed) { f.delay = d } }
func WithSort(st SortType, so SortOrder) Option { return func(f *Feed) { f.sortType, f.sortOrder = st, so } }

// Feed is the notification list for one mount of the notifications view.
type Feed struct {
	service Service
	delay   time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight sync.WaitGroup
	closed   bool

	username  string
	items     []FaultItem
	sortType  SortType
	sortOrder SortOrder
	revision  uint64
	loadSeq   uint64
}

func NewFeed(username string, service Service, opts ...Option) *Feed {
	f := &Feed{
		service:   service,
		delay:     DefaultDeleteDelay,
		log:       logger.WithComponent("faults"),
		username:  username,
		items:     []FaultItem{},
		sortType:  SortByDate,
		sortOrder: Descending,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Mount fetches the list in the background.
func (f *Feed) Mount(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)
}

// Reload refetches the list for the current identity.
func (f *Feed) Reload(ctx context.Context) {
	f.Mount(ctx)
}

// SetUsername switches identity and refetches. The list is cleared until the
// new identity's faults arrive.
func (f *Feed) SetUsername(ctx context.Context, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if username == f.username {
		return
	}
	f.username = username
	f.items = []FaultItem{}
	f.revision++
	f.loadLocked(ctx)
}

func (f *Feed) loadLocked(ctx context.Context) {
	if f.closed {
		return
	}
	f.loadSeq++
	seq, username := f.loadSeq, f.username
	f.inflight.Add(1)

	go func() {
		defer f.inflight.Done()

		list, err := f.service.ListFaults(context.WithoutCancel(ctx), username)

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.closed || seq != f.loadSeq {
			f.log.Debug().Str("username", username).Msg("discarding stale fault list")
			return
		}
		if err != nil {
			f.log.Error().Err(err).Str("username", username).Msg("loading faults")
			return
		}
		for _, ft := range list {
			if raw := ft.FaultTime.Unparsed(); raw != "" {
				f.log.Warn().Str("fault_id", string(ft.FaultID)).Str("fault_time", raw).Msg("unrecognised fault time")
			}
		}
		f.replaceLocked(list)
	}()
}

// replaceLocked installs a fetched list, keeping deleting marks of records
// still present.
func (f *Feed) replaceLocked(list []models.Fault) {
	deleting := make(map[models.FaultID]bool)
	for _, it := range f.items {
		if it.Deleting {
			deleting[it.FaultID] = true
		}
	}

	items := make([]FaultItem, 0, len(list))
	for _, flt := range list {
		items = append(items, FaultItem{Fault: flt, Deleting: deleting[flt.FaultID]})
	}
	f.items = items
	f.revision++
	f.log.Debug().Int("count", len(items)).Msg("faults loaded")
}

// SetSort changes the ordering. It reports whether anything changed; an
// identical request leaves the revision untouched.
func (f *Feed) SetSort(st SortType, so SortOrder) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if st == f.sortType && so == f.sortOrder {
		return false
	}
	f.sortType, f.sortOrder = st, so
	f.revision++
	return true
}

func (f *Feed) Sort() (SortType, SortOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortType, f.sortOrder
}

// Items returns the records in the current sort order.
func (f *Feed) Items() []FaultItem {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]FaultItem, len(f.items))
	copy(out, f.items)
	sortStable(out, func(it FaultItem) models.Fault { return it.Fault }, f.sortType, f.sortOrder)
	return out
}

// Revision increases on every visible change.
func (f *Feed) Revision() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revision
}

// Delete marks the record as deleting and sends the delete request after the
// feed's delay. On success the record is removed; on failure it stays
// visible and is flagged DeleteFailed.
func (f *Feed) Delete(ctx context.Context, id models.FaultID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	if f.items[i].Deleting {
		return ErrDeleteInProgress
	}

	f.setItemLocked(i, func(it *FaultItem) {
		it.Deleting = true
		it.DeleteFailed = false
	})

	username := f.username
	ctx = context.WithoutCancel(ctx)
	f.inflight.Add(1)
	time.AfterFunc(f.delay, func() {
		defer f.inflight.Done()
		f.sendDelete(ctx, username, id)
	})
	return nil
}

// sendDelete runs after the delay even if the feed has been unmounted; only
// the state update is skipped.
func (f *Feed) sendDelete(ctx context.Context, username string, id models.FaultID) {
	err := f.service.DeleteFault(ctx, username, id)
	f.metrics.FaultDelete(err)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		f.log.Error().Err(err).Str("fault_id", string(id)).Msg("deleting fault")
	}
	if f.closed || username != f.username {
		return
	}
	i := f.indexLocked(id)
	if i < 0 {
		return
	}

	if err != nil {
		f.setItemLocked(i, func(it *FaultItem) {
			it.Deleting = false
			it.DeleteFailed = true
		})
		return
	}

	items := make([]FaultItem, 0, len(f.items)-1)
	items = append(items, f.items[:i]...)
	f.items = append(items, f.items[i+1:]...)
	f.revision++
}

func (f *Feed) indexLocked(id models.FaultID) int {
	for i, it := range f.items {
		if it.FaultID == id {
			return i
		}
	}
	return -1
}

// setItemLocked replaces item i in a new slice.
func (f *Feed) setItemLocked(i int, update func(*FaultItem)) {
	items := make([]FaultItem, len(f.items))
	copy(items, f.items)
	update(&items[i])
	f.items = items
	f.revision++
}

// Unmount stops responses and timers from touching state. Scheduled deletes
// are still sent.
func (f *Feed) Unmount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Wait blocks until in-flight loads and scheduled deletes have finished.
func (f *Feed) Wait() {
	f.inflight.Wait()
}
