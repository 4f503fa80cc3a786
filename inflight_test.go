package laiqclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInflightOwnerSemantics(t *testing.T) {
	tracker := newInflightTracker()

	_, owner := tracker.getOrCreate("k")
	if !owner {
		t.Fatal("First caller must own the request")
	}
	_, owner = tracker.getOrCreate("k")
	if owner {
		t.Error("Second caller must not own the request")
	}
	_, owner = tracker.getOrCreate("other")
	if !owner {
		t.Error("Distinct keys must not share ownership")
	}
}

func TestInflightWaitersShareResult(t *testing.T) {
	tracker := newInflightTracker()

	entry, _ := tracker.getOrCreate("k")
	want := &Response{StatusCode: 200, Body: []byte("shared")}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := entry.wait(context.Background())
			if err != nil || resp != want {
				t.Errorf("Waiter got %v, %v", resp, err)
			}
		}()
	}

	tracker.complete("k", want, nil)
	wg.Wait()
}

func TestInflightErrorPropagates(t *testing.T) {
	tracker := newInflightTracker()
	entry, _ := tracker.getOrCreate("k")

	boom := errors.New("boom")
	tracker.complete("k", nil, boom)

	if _, err := entry.wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected shared error, got %v", err)
	}
}

func TestInflightWaiterContextCancel(t *testing.T) {
	tracker := newInflightTracker()
	entry, _ := tracker.getOrCreate("k")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := entry.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context error, got %v", err)
	}
}

func TestInflightEntryDroppedAfterSettle(t *testing.T) {
	tracker := newInflightTracker()

	tracker.getOrCreate("k")
	tracker.complete("k", &Response{}, nil)

	// the entry lingers briefly so racing callers still coalesce
	_, owner := tracker.getOrCreate("k")
	if owner {
		t.Error("Caller racing the settle should still coalesce")
	}

	time.Sleep(150 * time.Millisecond)
	_, owner = tracker.getOrCreate("k")
	if !owner {
		t.Error("Entry should be dropped after the linger window")
	}
}
