package conversation

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// LockTable hands out one mutex per conversation key so work for the
// same thread runs strictly one at a time while distinct threads
// proceed in parallel. Entries are reclaimed once the last holder
// releases, keeping the table bounded by in-flight work rather than
// by conversation count.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the key's mutex is held and returns the release
// function. The caller must invoke it exactly once.
func (t *LockTable) Lock(key string) func() {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &lockEntry{}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.entries, key)
		}
		t.mu.Unlock()
	}
}

// Len reports how many keys currently hold or await a lock.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
