// Package lockmap provides in-process advisory locks keyed by
// arbitrary strings. Locks are created on first use and evicted once
// nobody holds or waits on them.
package lockmap

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Map is a table of keyed mutual-exclusion locks.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty lock table.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Acquire takes the lock for key, blocking until it is free or the
// context is cancelled. On success it returns the release function.
func (m *Map) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			m.release(key, e)
		}, nil
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}
