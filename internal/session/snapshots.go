package session

import (
	"sync"

	"github.com/plantwatch/console/internal/telemetry"
)

// SnapshotKey is the durable key holding username's last machine list.
func SnapshotKey(base, username string) string {
	if base == "" {
		base = telemetry.DefaultSnapshotKey
	}
	return base + "/" + username
}

// snapshotLeases hands each operator's snapshot key to at most one mounted
// dashboard at a time.
type snapshotLeases struct {
	mu     sync.Mutex
	owners map[string]string // key -> session id
}

func newSnapshotLeases() *snapshotLeases {
	return &snapshotLeases{owners: make(map[string]string)}
}

func (l *snapshotLeases) acquire(key, sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if owner, ok := l.owners[key]; ok && owner != sessionID {
		return false
	}
	l.owners[key] = sessionID
	return true
}

func (l *snapshotLeases) release(key, sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[key] == sessionID {
		delete(l.owners, key)
	}
}
