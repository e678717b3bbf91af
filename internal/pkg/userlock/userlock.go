package userlock

import (
	"sync"

	"github.com/google/uuid"
)

// KeyedMutex serializes compute pipeline runs per user. Two concurrent runs
// for the same user would interleave ledger reconciliation and corrupt the
// delta chronology, so callers must hold the user's lock for the full run.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyedMutex {
	return &KeyedMutex{locks: map[uuid.UUID]*entry{}}
}

// Lock blocks until the user's lock is available and returns the unlock func.
func (k *KeyedMutex) Lock(userID uuid.UUID) func() {
	k.mu.Lock()
	e := k.locks[userID]
	if e == nil {
		e = &entry{}
		k.locks[userID] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
	}
}

// TryLock acquires the user's lock without blocking. The second return is
// false when another run holds it.
func (k *KeyedMutex) TryLock(userID uuid.UUID) (func(), bool) {
	k.mu.Lock()
	e := k.locks[userID]
	if e == nil {
		e = &entry{}
		k.locks[userID] = e
	}
	e.refs++
	k.mu.Unlock()

	if !e.mu.TryLock() {
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
	}, true
}
