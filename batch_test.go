package laiqclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBatchRequestsPreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"message":"not found"}`))
			return
		}
		_, _ = w.Write([]byte(fmt.Sprintf(`{"path":%q}`, r.URL.Path)))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	reqs := []BatchRequest{
		{Endpoint: "/products"},
		{Endpoint: "/broken"},
		{Endpoint: "/orders"},
	}
	results := client.BatchRequests(context.Background(), reqs)

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if !results[0].Success || string(results[0].Response.Body) != `{"path":"/products"}` {
		t.Errorf("Result 0 out of order: %+v", results[0])
	}
	if results[1].Success || results[1].Err == nil {
		t.Errorf("Result 1 should carry the failure: %+v", results[1])
	}
	if !results[2].Success || string(results[2].Response.Body) != `{"path":"/orders"}` {
		t.Errorf("Result 2 out of order: %+v", results[2])
	}
}

func TestBatchRequestsEmpty(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	if results := client.BatchRequests(context.Background(), nil); len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}

func TestScheduleCoalescesWindow(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithBatchWindow(60*time.Millisecond))

	// Two identical requests landing in the same window share one fetch
	// through the dedup layer; a distinct one rides the same flush.
	var wg sync.WaitGroup
	endpoints := []string{"/products", "/products", "/orders"}
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			if _, err := client.Schedule(context.Background(), endpoint, nil); err != nil {
				t.Errorf("Schedule %s failed: %v", endpoint, err)
			}
		}(endpoint)
	}
	wg.Wait()

	if calls.Load() > 2 {
		t.Errorf("Expected at most 2 network calls, got %d", calls.Load())
	}
	if batched := client.Stats().BatchedRequests; batched != 3 {
		t.Errorf("Expected 3 batched requests, got %d", batched)
	}
}

func TestScheduleFullWindowFlushesEarly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithBatchWindow(maxBatchWindow),
		WithMaxBatchSize(2),
	)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = client.Schedule(context.Background(), fmt.Sprintf("/p/%d", i), nil)
		}(i)
	}
	wg.Wait()

	// With a 200ms window, an early flush at size 2 settles well before it.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Full window should flush early, took %v", elapsed)
	}
}

func TestScheduleHonorsContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithBatchWindow(maxBatchWindow))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Schedule(ctx, "/products", nil); err == nil {
		t.Error("Cancelled context must fail the scheduled request")
	}
}
