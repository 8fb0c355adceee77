package engine

import (
	"context"
	"sync"
)

// sessionGate enforces at most one active workflow run per session id.
// Two back-to-back turns for the same session serialize here instead of
// racing on the persisted state.
type sessionGate struct {
	mu    sync.Mutex
	locks map[string]*gateEntry
}

type gateEntry struct {
	ch   chan struct{} // capacity 1: holding the token means owning the session
	refs int
}

func newSessionGate() *sessionGate {
	return &sessionGate{locks: make(map[string]*gateEntry)}
}

// acquire blocks until the session is free or ctx is cancelled. On success it
// returns a release function and true. Entries are refcounted so the map does
// not grow with dead sessions.
func (g *sessionGate) acquire(ctx context.Context, sessionID string) (func(), bool) {
	g.mu.Lock()
	entry, ok := g.locks[sessionID]
	if !ok {
		entry = &gateEntry{ch: make(chan struct{}, 1)}
		g.locks[sessionID] = entry
	}
	entry.refs++
	g.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return func() { g.release(sessionID, entry, true) }, true
	case <-ctx.Done():
		g.release(sessionID, entry, false)
		return nil, false
	}
}

func (g *sessionGate) release(sessionID string, entry *gateEntry, held bool) {
	if held {
		<-entry.ch
	}
	g.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(g.locks, sessionID)
	}
	g.mu.Unlock()
}
