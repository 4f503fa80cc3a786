package laiqclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// evictionFraction is the share of entries removed once the store
	// exceeds its maximum size.
	evictionFraction = 0.2
)

// Cached is one cache value: the response body plus transport metadata
// needed to rebuild a Response on a hit.
type Cached struct {
	Value      json.RawMessage
	StatusCode int
	Header     http.Header
}

type cacheEntry struct {
	cached    Cached
	createdAt time.Time
	ttl       time.Duration

	// access bookkeeping, updated on every hit
	accessCount int64
	lastAccess  int64 // unix nanos
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// CacheConfig configures a CacheStore.
type CacheConfig struct {
	MaxEntries    int
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	Persist       PersistentStore
	Feed          ChangeFeed
	Logger        Logger
	Metrics       *MetricsCollector
}

// CacheStore is a TTL-keyed cache with least-used eviction, durable
// mirroring and external change synchronization. Expired entries are
// deleted lazily on read and proactively by a periodic sweep. Safe for
// concurrent use.
type CacheStore struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry

	maxEntries    int
	defaultTTL    time.Duration
	sweepInterval time.Duration

	persist PersistentStore
	feed    ChangeFeed

	logger  Logger
	metrics *MetricsCollector

	hits      int64
	misses    int64
	evictions int64
	sets      int64

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewCacheStore builds a store, loads surviving durable entries, purges
// expired ones, and starts the sweep and change-feed loops.
func NewCacheStore(cfg CacheConfig) *CacheStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	c := &CacheStore{
		entries:       make(map[string]*cacheEntry),
		maxEntries:    cfg.MaxEntries,
		defaultTTL:    cfg.DefaultTTL,
		sweepInterval: cfg.SweepInterval,
		persist:       cfg.Persist,
		feed:          cfg.Feed,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		stop:          make(chan struct{}),
	}

	c.loadPersisted()

	c.wg.Add(1)
	go c.sweepLoop()

	if c.feed != nil {
		c.wg.Add(1)
		go c.feedLoop()
	}

	return c
}

// Get returns the cached value for key, or nil when absent or expired.
// An expired entry is deleted on the spot. A hit bumps the entry's access
// bookkeeping.
func (c *CacheStore) Get(key string) (*Cached, bool) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	if ok && !entry.expired(now) {
		atomic.AddInt64(&entry.accessCount, 1)
		atomic.StoreInt64(&entry.lastAccess, now.UnixNano())
		cached := entry.cached
		c.mu.RUnlock()

		atomic.AddInt64(&c.hits, 1)
		return &cached, true
	}
	c.mu.RUnlock()

	if ok {
		// expired: purge in memory and in the durable mirror
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.persistDelete(key)
	}

	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

// Set inserts or overwrites key. When the store would exceed its maximum
// size, the least-used entries (ascending accessCount, then lastAccess)
// are evicted first, about a fifth of the store at a time.
func (c *CacheStore) Set(key string, cached Cached, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	entry := &cacheEntry{
		cached:      cached,
		createdAt:   now,
		ttl:         ttl,
		accessCount: 0,
		lastAccess:  now.UnixNano(),
	}

	var evicted []string
	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		evicted = c.evictLocked()
	}
	c.entries[key] = entry
	size := len(c.entries)
	c.mu.Unlock()

	atomic.AddInt64(&c.sets, 1)
	if c.metrics != nil {
		c.metrics.RecordCacheSize(size)
	}

	for _, k := range evicted {
		c.persistDelete(k)
	}
	c.persistPut(key, entry)
}

// Delete removes key, reporting whether it was present.
func (c *CacheStore) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok {
		c.persistDelete(key)
	}
	return ok
}

// InvalidatePattern removes every entry whose key contains substr and
// returns how many were removed.
func (c *CacheStore) InvalidatePattern(substr string) int {
	var removed []string
	c.mu.Lock()
	for key := range c.entries {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			removed = append(removed, key)
		}
	}
	c.mu.Unlock()

	for _, key := range removed {
		c.persistDelete(key)
	}
	return len(removed)
}

// Clear empties the store and returns the number of entries removed.
func (c *CacheStore) Clear() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	if c.persist != nil {
		ctx, cancel := c.persistCtx()
		defer cancel()
		if err := c.persist.Clear(ctx); err != nil && c.logger != nil {
			c.logger.Warn("Cache persistence clear failed", "error", err.Error())
		}
	}
	return n
}

// Stats reports aggregate cache state.
func (c *CacheStore) Stats() CacheStats {
	now := time.Now()

	c.mu.RLock()
	total := len(c.entries)
	expired := 0
	var accessSum int64
	var oldest, newest time.Time
	for _, entry := range c.entries {
		if entry.expired(now) {
			expired++
		}
		accessSum += atomic.LoadInt64(&entry.accessCount)
		if oldest.IsZero() || entry.createdAt.Before(oldest) {
			oldest = entry.createdAt
		}
		if newest.IsZero() || entry.createdAt.After(newest) {
			newest = entry.createdAt
		}
	}
	c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := CacheStats{
		TotalEntries:   total,
		ExpiredEntries: expired,
		OldestCreated:  oldest,
		NewestCreated:  newest,
		Hits:           hits,
		Misses:         misses,
		Evictions:      atomic.LoadInt64(&c.evictions),
		Sets:           atomic.LoadInt64(&c.sets),
	}
	if total > 0 {
		stats.AvgAccessCount = float64(accessSum) / float64(total)
	}
	if hits+misses > 0 {
		stats.HitRatio = float64(hits) / float64(hits+misses)
	}
	return stats
}

// Close stops the sweep and feed loops. The durable mirror keeps its
// contents for the next start.
func (c *CacheStore) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

// evictLocked removes ~20% of entries in ascending (accessCount,
// lastAccess) order and returns their keys. Caller holds the write lock.
func (c *CacheStore) evictLocked() []string {
	count := int(float64(c.maxEntries) * evictionFraction)
	if count < 1 {
		count = 1
	}

	type ranked struct {
		key    string
		access int64
		last   int64
	}
	all := make([]ranked, 0, len(c.entries))
	for key, entry := range c.entries {
		all = append(all, ranked{
			key:    key,
			access: atomic.LoadInt64(&entry.accessCount),
			last:   atomic.LoadInt64(&entry.lastAccess),
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].access != all[j].access {
			return all[i].access < all[j].access
		}
		return all[i].last < all[j].last
	})

	if count > len(all) {
		count = len(all)
	}
	evicted := make([]string, 0, count)
	for _, r := range all[:count] {
		delete(c.entries, r.key)
		evicted = append(evicted, r.key)
	}

	atomic.AddInt64(&c.evictions, int64(count))
	if c.metrics != nil {
		c.metrics.RecordCacheEvictions(count)
	}
	if c.logger != nil {
		c.logger.Debug("Cache eviction", "removed", count)
	}
	return evicted
}

func (c *CacheStore) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes all expired entries, independent of reads.
func (c *CacheStore) sweep() {
	now := time.Now()

	var removed []string
	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			removed = append(removed, key)
		}
	}
	c.mu.Unlock()

	for _, key := range removed {
		c.persistDelete(key)
	}
	if len(removed) > 0 && c.logger != nil {
		c.logger.Debug("Cache sweep", "removed", len(removed))
	}
}

func (c *CacheStore) feedLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case change, ok := <-c.feed.Changes():
			if !ok {
				return
			}
			c.applyChange(change)
		}
	}
}

// applyChange applies an externally observed mutation without re-mirroring
// it: the originating instance already wrote the durable record.
func (c *CacheStore) applyChange(change Change) {
	switch change.Op {
	case ChangePut:
		if change.Entry == nil || change.Entry.Expired(time.Now()) {
			return
		}
		entry := entryFromStored(*change.Entry)
		c.mu.Lock()
		c.entries[change.Key] = entry
		c.mu.Unlock()
	case ChangeDelete:
		c.mu.Lock()
		delete(c.entries, change.Key)
		c.mu.Unlock()
	case ChangeClear:
		c.mu.Lock()
		c.entries = make(map[string]*cacheEntry)
		c.mu.Unlock()
	}
}

// loadPersisted restores durable entries at startup, dropping and purging
// any that expired while the process was down.
func (c *CacheStore) loadPersisted() {
	if c.persist == nil {
		return
	}

	ctx, cancel := c.persistCtx()
	defer cancel()

	stored, err := c.persist.LoadAll(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("Cache persistence load failed", "error", err.Error())
		}
		return
	}

	now := time.Now()
	loaded := 0
	for _, s := range stored {
		if s.Expired(now) {
			c.persistDelete(s.Key)
			continue
		}
		c.entries[s.Key] = entryFromStored(s)
		loaded++
	}
	if c.logger != nil && loaded > 0 {
		c.logger.Debug("Cache restored from persistence", "entries", loaded)
	}
}

func entryFromStored(s StoredEntry) *cacheEntry {
	last := s.LastAccessedAt
	if last.IsZero() {
		last = s.CreatedAt
	}
	return &cacheEntry{
		cached: Cached{
			Value:      s.Value,
			StatusCode: s.StatusCode,
			Header:     s.Header,
		},
		createdAt:   s.CreatedAt,
		ttl:         s.TTL,
		accessCount: s.AccessCount,
		lastAccess:  last.UnixNano(),
	}
}

func (c *CacheStore) persistPut(key string, entry *cacheEntry) {
	if c.persist == nil {
		return
	}
	ctx, cancel := c.persistCtx()
	defer cancel()

	stored := StoredEntry{
		Key:            key,
		Value:          entry.cached.Value,
		StatusCode:     entry.cached.StatusCode,
		Header:         entry.cached.Header,
		CreatedAt:      entry.createdAt,
		TTL:            entry.ttl,
		AccessCount:    atomic.LoadInt64(&entry.accessCount),
		LastAccessedAt: time.Unix(0, atomic.LoadInt64(&entry.lastAccess)),
	}
	if err := c.persist.Put(ctx, stored); err != nil && c.logger != nil {
		c.logger.Warn("Cache persistence put failed", "key", key, "error", err.Error())
	}
}

func (c *CacheStore) persistDelete(key string) {
	if c.persist == nil {
		return
	}
	ctx, cancel := c.persistCtx()
	defer cancel()
	if err := c.persist.Delete(ctx, key); err != nil && c.logger != nil {
		c.logger.Warn("Cache persistence delete failed", "key", key, "error", err.Error())
	}
}

func (c *CacheStore) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
