package laiqclient

import (
	"context"
	"sync"
	"time"
)

// inflightEntry is one in-flight request shared between concurrent callers
// for the same key. The first caller owns the network round trip; everyone
// else waits on done and receives the same settled result.
type inflightEntry struct {
	response *Response
	err      error
	done     chan struct{}
	mu       sync.Mutex
	waiters  int
}

// inflightTracker maintains the at-most-one-concurrent-fetch-per-key
// invariant. Entries exist only while a request is unsettled; they are
// never persisted.
type inflightTracker struct {
	mu      sync.RWMutex
	entries map[string]*inflightEntry
}

func newInflightTracker() *inflightTracker {
	return &inflightTracker{entries: make(map[string]*inflightEntry)}
}

// getOrCreate returns an existing entry (owner=false) or registers a new
// one (owner=true).
func (t *inflightTracker) getOrCreate(key string) (*inflightEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.entries[key]; exists {
		entry.mu.Lock()
		entry.waiters++
		entry.mu.Unlock()
		return entry, false
	}

	entry := &inflightEntry{
		done:    make(chan struct{}),
		waiters: 1,
	}
	t.entries[key] = entry
	return entry, true
}

// complete settles the entry and releases waiters. The entry lingers
// briefly so callers racing the settle still coalesce, then is dropped.
func (t *inflightTracker) complete(key string, resp *Response, err error) {
	t.mu.Lock()
	entry, exists := t.entries[key]
	t.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	entry.response = resp
	entry.err = err
	close(entry.done)
	entry.mu.Unlock()

	time.AfterFunc(100*time.Millisecond, func() {
		t.mu.Lock()
		if t.entries[key] == entry {
			delete(t.entries, key)
		}
		t.mu.Unlock()
	})
}

// wait blocks until the owning request settles or ctx cancels. A caller
// whose context expires gives up individually; the shared round trip keeps
// running for the remaining waiters.
func (entry *inflightEntry) wait(ctx context.Context) (*Response, error) {
	select {
	case <-entry.done:
		entry.mu.Lock()
		resp := entry.response
		err := entry.err
		entry.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
