package store

import (
	"sync"

	"github.com/google/uuid"
)

// Locks hands out one RWMutex per slot. An entry lives only while some
// caller holds or waits for it, so the registry is bounded by the number of
// in-flight requests rather than by the slot ids ever seen.
type Locks struct {
	mu    sync.Mutex
	items map[uuid.UUID]*slotLock
}

type slotLock struct {
	sync.RWMutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{items: make(map[uuid.UUID]*slotLock)}
}

// Lock takes the write lock of slot. The returned func releases it.
func (l *Locks) Lock(slot uuid.UUID) (unlock func()) {
	e := l.acquire(slot)
	e.Lock()
	return func() {
		e.Unlock()
		l.release(slot, e)
	}
}

// RLock takes the read lock of slot. The returned func releases it.
func (l *Locks) RLock(slot uuid.UUID) (unlock func()) {
	e := l.acquire(slot)
	e.RLock()
	return func() {
		e.RUnlock()
		l.release(slot, e)
	}
}

func (l *Locks) acquire(slot uuid.UUID) *slotLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.items[slot]
	if !ok {
		e = &slotLock{}
		l.items[slot] = e
	}
	e.refs++
	return e
}

func (l *Locks) release(slot uuid.UUID, e *slotLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.items, slot)
	}
}

func (l *Locks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
