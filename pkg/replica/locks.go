package replica

import "sync"

// Locks holds the two pending-op sets described in §3: roomIds whose
// local subscribe/unsubscribe decision has not yet committed to the
// coordinator. The sync engine consults these to avoid trampling an
// in-flight local decision (§4.5).
type Locks struct {
	mu     sync.Mutex
	create map[string]struct{}
	delete map[string]struct{}
}

// NewLocks returns an empty Locks.
func NewLocks() *Locks {
	return &Locks{
		create: make(map[string]struct{}),
		delete: make(map[string]struct{}),
	}
}

// AddCreate marks roomID as having an in-flight local subscribe.
func (l *Locks) AddCreate(roomID string) {
	l.mu.Lock()
	l.create[roomID] = struct{}{}
	l.mu.Unlock()
}

// ReleaseCreate clears roomID's in-flight subscribe marker, whether the
// coordinator write that triggered it succeeded or failed.
func (l *Locks) ReleaseCreate(roomID string) {
	l.mu.Lock()
	delete(l.create, roomID)
	l.mu.Unlock()
}

// AddDelete marks roomID as having an in-flight local unsubscribe.
func (l *Locks) AddDelete(roomID string) {
	l.mu.Lock()
	l.delete[roomID] = struct{}{}
	l.mu.Unlock()
}

// ReleaseDelete clears roomID's in-flight unsubscribe marker.
func (l *Locks) ReleaseDelete(roomID string) {
	l.mu.Lock()
	delete(l.delete, roomID)
	l.mu.Unlock()
}

// Locked reports whether roomID has either kind of pending op, meaning a
// sync-driven update for it should be skipped (§4.5 "state" handler).
func (l *Locks) Locked(roomID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, creating := l.create[roomID]
	_, deleting := l.delete[roomID]
	return creating || deleting
}
