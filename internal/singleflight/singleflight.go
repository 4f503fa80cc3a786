// Package singleflight coalesces duplicate concurrent work per key. The
// client uses it to guarantee at most one background warm-up replay is in
// flight for a given request key.
package singleflight

import (
	"sync"
	"time"
)

// linger keeps a settled call visible briefly so duplicates racing the
// settle still coalesce instead of starting over.
const linger = 100 * time.Millisecond

type call struct {
	done chan struct{}
	val  any
	err  error
}

// Group manages a set of in-flight calls keyed by string.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// New creates an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn, making sure only one execution is in-flight for key at a
// time. Duplicate callers wait for the original and receive its results.
func (g *Group) Do(key string, fn func() (any, error)) (any, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		<-c.done
		return c.val, c.err
	}
	c := g.startLocked(key)
	g.mu.Unlock()

	g.run(key, c, fn)
	return c.val, c.err
}

// TryDo executes fn only if no call with the same key is in progress.
// Otherwise it returns immediately with started=false. Warm-up replays use
// this path: a replay that is already running must not queue another.
func (g *Group) TryDo(key string, fn func() (any, error)) (val any, err error, started bool) {
	g.mu.Lock()
	if _, ok := g.m[key]; ok {
		g.mu.Unlock()
		return nil, ErrInProgress, false
	}
	c := g.startLocked(key)
	g.mu.Unlock()

	g.run(key, c, fn)
	return c.val, c.err, true
}

// Forget removes key from the group, allowing the next caller to start a
// fresh execution even if a previous one is still running.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

func (g *Group) startLocked(key string) *call {
	c := &call{done: make(chan struct{})}
	g.m[key] = c
	return c
}

// run executes fn, settles the call, and schedules its removal after the
// linger period.
func (g *Group) run(key string, c *call, fn func() (any, error)) {
	c.val, c.err = fn()
	close(c.done)

	time.AfterFunc(linger, func() {
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
	})
}
