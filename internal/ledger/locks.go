package ledger

import (
	"sort"
	"sync"
)

// lockTable provides per-ingredient mutual exclusion.
//
// Multi-ingredient acquisition always happens in canonical order (sorted
// ingredient ids) so that two orders sharing an overlapping ingredient
// set cannot deadlock against each other.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for an ingredient, creating it on first use.
// Locks are never removed: the table grows with the ingredient catalog,
// which is bounded and small.
func (t *lockTable) get(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	return m
}

// acquire locks every id in canonical order and returns the release
// function. Duplicate ids are collapsed - a recipe referencing the same
// ingredient in two lines must not self-deadlock.
func (t *lockTable) acquire(ids []string) (release func()) {
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}

	ordered := make([]string, 0, len(unique))
	for id := range unique {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, id := range ordered {
		m := t.get(id)
		m.Lock()
		held = append(held, m)
	}

	return func() {
		// Release in reverse acquisition order.
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
