package plant

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ZoneID is the stable identity of a zone within an editor. Display index is
// derived from order and is not an identity.
type ZoneID string

// MachineKey is the stable identity of a machine within an editor. It is
// distinct from the backend-visible MachineID.
type MachineKey string

func newZoneID() ZoneID         { return ZoneID(uuid.New().String()) }
func newMachineKey() MachineKey { return MachineKey(uuid.New().String()) }

// IDMinter hands out machine ids derived from the wall clock in milliseconds.
// Ids are strictly increasing even when two machines are created within the
// same millisecond.
type IDMinter struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func NewIDMinter(now func() time.Time) *IDMinter {
	if now == nil {
		now = time.Now
	}
	return &IDMinter{now: now}
}

// Next returns max(now, last+1).
func (m *IDMinter) Next() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.now().UnixMilli()
	if id <= m.last {
		id = m.last + 1
	}
	m.last = id
	return id
}

// Observe records an id minted elsewhere so later ids never collide with it.
func (m *IDMinter) Observe(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.last {
		m.last = id
	}
}

var processMinter = NewIDMinter(time.Now)

// ProcessMinter is shared by every editor in the process.
func ProcessMinter() *IDMinter {
	return processMinter
}
