package laiqclient

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestCache(t *testing.T, cfg CacheConfig) *CacheStore {
	t.Helper()
	c := NewCacheStore(cfg)
	t.Cleanup(c.Close)
	return c
}

func TestCacheSetGet(t *testing.T) {
	cache := newTestCache(t, CacheConfig{})

	_, found := cache.Get("missing")
	if found {
		t.Error("Expected false for non-existent key")
	}

	cache.Set("products", Cached{Value: []byte(`{"success":true}`), StatusCode: 200}, time.Minute)

	cached, found := cache.Get("products")
	if !found {
		t.Fatal("Expected true for existing key")
	}
	if string(cached.Value) != `{"success":true}` {
		t.Errorf("Unexpected value: %s", cached.Value)
	}
	if cached.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", cached.StatusCode)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := newTestCache(t, CacheConfig{SweepInterval: time.Hour})

	cache.Set("short", Cached{Value: []byte("v")}, 20*time.Millisecond)

	if _, found := cache.Get("short"); !found {
		t.Fatal("Entry should be live before TTL")
	}

	time.Sleep(40 * time.Millisecond)

	if _, found := cache.Get("short"); found {
		t.Error("Entry should have expired")
	}

	// the lazy purge on read must have removed it entirely
	stats := cache.Stats()
	if stats.TotalEntries != 0 {
		t.Errorf("Expected 0 entries after expiry read, got %d", stats.TotalEntries)
	}
}

func TestCacheEvictsLeastUsed(t *testing.T) {
	cache := newTestCache(t, CacheConfig{MaxEntries: 10, SweepInterval: time.Hour})

	for i := 0; i < 10; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), Cached{Value: []byte("v")}, time.Minute)
	}

	// Touch the upper half so the lower half is the eviction candidate set.
	for i := 5; i < 10; i++ {
		for j := 0; j <= i; j++ {
			cache.Get(fmt.Sprintf("key-%d", i))
		}
	}

	// Inserting past the bound evicts about a fifth of the store,
	// starting with the never-read entries.
	cache.Set("key-new", Cached{Value: []byte("v")}, time.Minute)

	if _, found := cache.Get("key-new"); !found {
		t.Fatal("New entry must survive its own insert")
	}
	for i := 5; i < 10; i++ {
		if _, found := cache.Get(fmt.Sprintf("key-%d", i)); !found {
			t.Errorf("Frequently read key-%d should not have been evicted", i)
		}
	}

	evictedCount := 0
	for i := 0; i < 5; i++ {
		if _, found := cache.Get(fmt.Sprintf("key-%d", i)); !found {
			evictedCount++
		}
	}
	if evictedCount == 0 {
		t.Error("Expected at least one unread entry to be evicted")
	}

	stats := cache.Stats()
	if stats.Evictions == 0 {
		t.Error("Eviction counter not bumped")
	}
	if stats.TotalEntries > 10 {
		t.Errorf("Store exceeded its bound: %d entries", stats.TotalEntries)
	}
}

func TestCacheInvalidatePattern(t *testing.T) {
	cache := newTestCache(t, CacheConfig{})

	cache.Set("GET /products", Cached{Value: []byte("a")}, time.Minute)
	cache.Set("GET /products?category=bags", Cached{Value: []byte("b")}, time.Minute)
	cache.Set("GET /orders", Cached{Value: []byte("c")}, time.Minute)

	removed := cache.InvalidatePattern("/products")
	if removed != 2 {
		t.Errorf("Expected 2 removals, got %d", removed)
	}
	if _, found := cache.Get("GET /orders"); !found {
		t.Error("Unrelated entry must survive invalidation")
	}
}

func TestCacheClear(t *testing.T) {
	cache := newTestCache(t, CacheConfig{})

	cache.Set("a", Cached{Value: []byte("1")}, time.Minute)
	cache.Set("b", Cached{Value: []byte("2")}, time.Minute)

	if n := cache.Clear(); n != 2 {
		t.Errorf("Expected Clear to report 2, got %d", n)
	}
	if _, found := cache.Get("a"); found {
		t.Error("Entry survived Clear")
	}
}

func TestCacheStats(t *testing.T) {
	cache := newTestCache(t, CacheConfig{})

	cache.Set("a", Cached{Value: []byte("1")}, time.Minute)
	cache.Get("a")
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	if stats.TotalEntries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.TotalEntries)
	}
	if stats.Hits != 2 {
		t.Errorf("Expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.Sets != 1 {
		t.Errorf("Expected 1 set, got %d", stats.Sets)
	}
	if stats.AvgAccessCount != 2 {
		t.Errorf("Expected average access count 2, got %f", stats.AvgAccessCount)
	}
	if stats.HitRatio < 0.66 || stats.HitRatio > 0.67 {
		t.Errorf("Expected hit ratio ~0.67, got %f", stats.HitRatio)
	}
}

func TestCacheSweepPurgesExpired(t *testing.T) {
	cache := newTestCache(t, CacheConfig{SweepInterval: 20 * time.Millisecond})

	cache.Set("gone", Cached{Value: []byte("v")}, 10*time.Millisecond)
	cache.Set("kept", Cached{Value: []byte("v")}, time.Minute)

	time.Sleep(80 * time.Millisecond)

	stats := cache.Stats()
	if stats.TotalEntries != 1 {
		t.Errorf("Sweep should leave exactly the live entry, got %d", stats.TotalEntries)
	}
}

func TestCacheWarmStartFromPersistence(t *testing.T) {
	store := NewMemoryStore()

	first := NewCacheStore(CacheConfig{Persist: store, SweepInterval: time.Hour})
	first.Set("GET /products", Cached{Value: []byte(`[]`), StatusCode: 200}, time.Minute)
	// mirroring is asynchronous
	waitFor(t, 500*time.Millisecond, func() bool { return store.Len() == 1 })
	first.Close()

	second := NewCacheStore(CacheConfig{Persist: store, SweepInterval: time.Hour})
	defer second.Close()

	cached, found := second.Get("GET /products")
	if !found {
		t.Fatal("Persisted entry should be visible after a cold start")
	}
	if string(cached.Value) != `[]` {
		t.Errorf("Unexpected persisted value: %s", cached.Value)
	}
}

func TestCachePersistenceSkipsExpired(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), StoredEntry{
		Key:       "stale",
		Value:     []byte("v"),
		CreatedAt: time.Now().Add(-time.Hour),
		TTL:       time.Minute,
	}); err != nil {
		t.Fatal(err)
	}

	cache := newTestCache(t, CacheConfig{Persist: store, SweepInterval: time.Hour})

	if _, found := cache.Get("stale"); found {
		t.Error("Expired persisted entry must not be loaded")
	}
}

func TestCacheAppliesFeedChanges(t *testing.T) {
	feed := NewMemoryFeed()
	cache := newTestCache(t, CacheConfig{Feed: feed, SweepInterval: time.Hour})

	feed.Publish(Change{
		Op:  ChangePut,
		Key: "GET /products",
		Entry: &StoredEntry{
			Key:       "GET /products",
			Value:     []byte(`{"shared":true}`),
			CreatedAt: time.Now(),
			TTL:       time.Minute,
		},
	})

	waitFor(t, 500*time.Millisecond, func() bool {
		_, found := cache.Get("GET /products")
		return found
	})

	feed.Publish(Change{Op: ChangeDelete, Key: "GET /products"})

	waitFor(t, 500*time.Millisecond, func() bool {
		_, found := cache.Get("GET /products")
		return !found
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}
