package session

import (
	"sync"
)

// keyedRWMutex provides per-key reader/writer exclusion. Stage transitions
// take the write side of a session's lock while vote casts hold the read
// side, which gives transitions a happens-before edge over every in-flight
// vote without any cross-session locking. Entries are reference counted so
// the table stays proportional to the number of keys currently contended.
type keyedRWMutex struct {
	entries map[string]*rwEntry
	mu      sync.Mutex
}

type rwEntry struct {
	lock sync.RWMutex
	refs int
}

func newKeyedRWMutex() *keyedRWMutex {
	return &keyedRWMutex{entries: make(map[string]*rwEntry)}
}

// Lock acquires the write side for key and returns the release function.
func (k *keyedRWMutex) Lock(key string) func() {
	entry := k.acquire(key)
	entry.lock.Lock()
	return func() {
		entry.lock.Unlock()
		k.release(key, entry)
	}
}

// RLock acquires the read side for key and returns the release function.
func (k *keyedRWMutex) RLock(key string) func() {
	entry := k.acquire(key)
	entry.lock.RLock()
	return func() {
		entry.lock.RUnlock()
		k.release(key, entry)
	}
}

func (k *keyedRWMutex) acquire(key string) *rwEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, exists := k.entries[key]
	if !exists {
		entry = &rwEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (k *keyedRWMutex) release(key string, entry *rwEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
}

// keyedMutex provides per-key mutual exclusion. It serializes the
// check-then-act of concurrent vote mutations against one submission.
type keyedMutex struct {
	entries map[string]*mutexEntry
	mu      sync.Mutex
}

type mutexEntry struct {
	lock sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*mutexEntry)}
}

// Lock acquires the mutex for key and returns the release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, exists := k.entries[key]
	if !exists {
		entry = &mutexEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.lock.Lock()
	return func() {
		entry.lock.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
