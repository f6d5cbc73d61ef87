// Package locks provides per-key mutual exclusion with context-aware waiting.
package locks

import (
	"context"
	"sync"
)

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Table hands out one lock per key. Entries are created on first use and
// dropped once no holder or waiter references them.
type Table[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*lockEntry
}

// NewTable creates an empty lock table.
func NewTable[K comparable]() *Table[K] {
	return &Table[K]{entries: make(map[K]*lockEntry)}
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// release func is safe to call more than once.
func (t *Table[K]) Acquire(ctx context.Context, key K) (func(), error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		t.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			t.unref(key, e)
		})
	}, nil
}

func (t *Table[K]) unref(key K, e *lockEntry) {
	t.mu.Lock()
	e.refs--
	if e.refs == 0 && t.entries[key] == e {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

// Len returns the number of keys currently held or awaited.
func (t *Table[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
