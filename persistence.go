package laiqclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// StoredEntry is the durable form of a cache entry. Every cache mutation is
// mirrored through a PersistentStore so entries survive a restart.
type StoredEntry struct {
	Key            string          `json:"key"`
	Value          json.RawMessage `json:"value"`
	StatusCode     int             `json:"statusCode"`
	Header         http.Header     `json:"header,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	TTL            time.Duration   `json:"ttl"`
	AccessCount    int64           `json:"accessCount"`
	LastAccessedAt time.Time       `json:"lastAccessedAt"`
}

// Expired reports whether the entry is logically absent at now.
func (e *StoredEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// PersistentStore is the durable key/value port for cache entries.
// Implementations must be safe for concurrent use.
type PersistentStore interface {
	LoadAll(ctx context.Context) ([]StoredEntry, error)
	Put(ctx context.Context, entry StoredEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ChangeOp distinguishes externally observed mutations.
type ChangeOp string

const (
	ChangePut    ChangeOp = "put"
	ChangeDelete ChangeOp = "delete"
	ChangeClear  ChangeOp = "clear"
)

// Change is one externally observed mutation of the durable store, e.g.
// a write from another client instance sharing the same backend.
type Change struct {
	Op    ChangeOp     `json:"op"`
	Key   string       `json:"key,omitempty"`
	Entry *StoredEntry `json:"entry,omitempty"`
}

// ChangeFeed delivers external mutations so the in-memory cache stays in
// step with the durable store. In single-process deployments it is simply
// not configured.
type ChangeFeed interface {
	Changes() <-chan Change
	Close() error
}

// MemoryStore is an in-memory PersistentStore used by tests and by
// deployments that want persistence semantics without a real backend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]StoredEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]StoredEntry)}
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]StoredEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, entry StoredEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]StoredEntry)
	return nil
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MemoryFeed is an in-process ChangeFeed. Tests publish changes into it to
// simulate another instance mutating the shared store.
type MemoryFeed struct {
	mu     sync.Mutex
	ch     chan Change
	closed bool
}

// NewMemoryFeed returns a feed with a small buffer.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{ch: make(chan Change, 16)}
}

// Publish delivers a change to the subscriber. Changes published after
// Close, or while the buffer is full, are dropped.
func (f *MemoryFeed) Publish(change Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- change:
	default:
	}
}

func (f *MemoryFeed) Changes() <-chan Change { return f.ch }

func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}
