package gateway

import "sync"

// lockTable hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits on them.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int // refs counts holders and waiters
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

// lock blocks until key is held and returns its unlock function.
func (t *lockTable) lock(key []byte) func() {
	k := string(key)

	t.mu.Lock()
	e, ok := t.entries[k]
	if !ok {
		e = &lockEntry{}
		t.entries[k] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.entries, k)
		}
		t.mu.Unlock()
	}
}

// size returns the number of live entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
