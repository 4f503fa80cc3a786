package laiqclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestStoredEntryExpired(t *testing.T) {
	entry := StoredEntry{CreatedAt: time.Now().Add(-2 * time.Minute), TTL: time.Minute}
	if !entry.Expired(time.Now()) {
		t.Error("Old entry should be expired")
	}

	live := StoredEntry{CreatedAt: time.Now(), TTL: time.Minute}
	if live.Expired(time.Now()) {
		t.Error("Fresh entry should be live")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entry := StoredEntry{
		Key:       "GET /products",
		Value:     []byte(`{"success":true}`),
		CreatedAt: time.Now(),
		TTL:       time.Minute,
	}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatal(err)
	}

	all, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Key != entry.Key {
		t.Fatalf("Unexpected load result: %+v", all)
	}

	if err := store.Delete(ctx, entry.Key); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 0 {
		t.Error("Delete left entries behind")
	}

	_ = store.Put(ctx, entry)
	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 0 {
		t.Error("Clear left entries behind")
	}
}

func TestMemoryFeedDelivers(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()

	feed.Publish(Change{Op: ChangeDelete, Key: "k"})

	select {
	case change := <-feed.Changes():
		if change.Op != ChangeDelete || change.Key != "k" {
			t.Errorf("Unexpected change: %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("Change not delivered")
	}
}

// The Redis feed transports changes as JSON; the codec must survive a
// round trip including the embedded entry.
func TestChangeJSONRoundTrip(t *testing.T) {
	entry := &StoredEntry{
		Key:            "GET /products",
		Value:          []byte(`{"success":true}`),
		StatusCode:     200,
		CreatedAt:      time.Now().Truncate(time.Second),
		TTL:            5 * time.Minute,
		AccessCount:    3,
		LastAccessedAt: time.Now().Truncate(time.Second),
	}
	raw, err := json.Marshal(Change{Op: ChangePut, Key: entry.Key, Entry: entry})
	if err != nil {
		t.Fatal(err)
	}

	var decoded Change
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Op != ChangePut || decoded.Key != entry.Key {
		t.Errorf("Header fields lost: %+v", decoded)
	}
	if decoded.Entry == nil || decoded.Entry.TTL != entry.TTL || decoded.Entry.AccessCount != 3 {
		t.Errorf("Entry fields lost: %+v", decoded.Entry)
	}
	if string(decoded.Entry.Value) != `{"success":true}` {
		t.Errorf("Value lost: %s", decoded.Entry.Value)
	}
}

func TestMemoryFeedPublishAfterClose(t *testing.T) {
	feed := NewMemoryFeed()
	if err := feed.Close(); err != nil {
		t.Fatal(err)
	}

	// Closing twice and publishing into a closed feed must both be no-ops.
	if err := feed.Close(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		feed.Publish(Change{Op: ChangePut, Key: "GET /products"})
	}
}

func TestMemoryFeedDropsWhenBufferFull(t *testing.T) {
	feed := NewMemoryFeed()
	defer func() { _ = feed.Close() }()

	// Nothing is draining the channel; publishing past the buffer must not
	// block.
	for i := 0; i < 100; i++ {
		feed.Publish(Change{Op: ChangeDelete, Key: "GET /products"})
	}
}
