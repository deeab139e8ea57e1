// internal/engine/locks.go
package engine

import "sync"

// roomLocks hands out one mutex per chat so actions and timer callbacks
// for the same room serialize in-process. Locks are never evicted; the
// per-room footprint is a mutex and a map slot.
type roomLocks struct {
	mu sync.Mutex
	m  map[int64]*sync.Mutex
}

func newRoomLocks() *roomLocks {
	return &roomLocks{m: make(map[int64]*sync.Mutex)}
}

func (l *roomLocks) get(chatID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.m[chatID]
	if !ok {
		lk = &sync.Mutex{}
		l.m[chatID] = lk
	}
	return lk
}
