package laiqclient

import (
	"errors"
	"testing"
	"time"
)

func TestNewDefaultsAreValid(t *testing.T) {
	client := New(WithSelfTuning(false))
	defer client.Close()

	if !client.IsValid() {
		t.Fatalf("Default configuration should validate: %v", client.ValidationError())
	}
	if client.timeout != 60*time.Second {
		t.Errorf("Unexpected default timeout %v", client.timeout)
	}
	if client.defaultTTL != 5*time.Minute {
		t.Errorf("Unexpected default TTL %v", client.defaultTTL)
	}
	if client.cacheMaxEntries != 100 {
		t.Errorf("Unexpected default cache bound %d", client.cacheMaxEntries)
	}
	if client.BatchWindow() != 100*time.Millisecond {
		t.Errorf("Unexpected default batch window %v", client.BatchWindow())
	}
	if client.maxBatchSize != 10 {
		t.Errorf("Unexpected default batch size %d", client.maxBatchSize)
	}
}

func TestOptionsApply(t *testing.T) {
	feedStore := NewMemoryStore()
	client := New(
		WithSelfTuning(false),
		WithBaseURL("https://laiq.example.com/api/"),
		WithPageOrigin("https://laiq.example.com"),
		WithTimeout(10*time.Second),
		WithDefaultCacheTTL(time.Minute),
		WithCacheMaxEntries(50),
		WithPersistentStore(feedStore),
		WithChangeFeed(NewMemoryFeed()),
		WithMaxRetries(5),
		WithBatchWindow(80*time.Millisecond),
		WithMaxBatchSize(4),
	)
	defer client.Close()

	if !client.IsValid() {
		t.Fatalf("Configuration should validate: %v", client.ValidationError())
	}
	if client.baseURL != "https://laiq.example.com/api" {
		t.Errorf("Trailing slash not trimmed: %q", client.baseURL)
	}
	if client.recovery.MaxRetries() != 5 {
		t.Errorf("MaxRetries not forwarded, got %d", client.recovery.MaxRetries())
	}
	if client.BatchWindow() != 80*time.Millisecond {
		t.Errorf("Batch window not applied: %v", client.BatchWindow())
	}
}

func TestValidationCatchesBadValues(t *testing.T) {
	cases := []struct {
		name string
		opts []Option
	}{
		{"negative timeout", []Option{WithTimeout(-time.Second)}},
		{"zero cache bound", []Option{WithCacheMaxEntries(0)}},
		{"zero ttl", []Option{WithDefaultCacheTTL(0)}},
		{"batch window too small", []Option{WithBatchWindow(time.Millisecond)}},
		{"batch window too large", []Option{WithBatchWindow(time.Second)}},
		{"zero batch size", []Option{WithMaxBatchSize(0)}},
		{"feed without store", []Option{WithChangeFeed(NewMemoryFeed())}},
		{"bad rate limiter", []Option{WithRateLimiter(0, time.Second)}},
	}
	for _, tc := range cases {
		opts := append([]Option{WithSelfTuning(false)}, tc.opts...)
		client := New(opts...)
		if client.IsValid() {
			t.Errorf("%s: expected validation failure", tc.name)
		}
		err := client.ValidationError()
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Type != ErrorTypeValidation {
			t.Errorf("%s: expected validation APIError, got %v", tc.name, err)
		}
		client.Close()
	}
}

func TestWithDebugInstallsLogger(t *testing.T) {
	client := New(WithSelfTuning(false), WithDebug())
	defer client.Close()

	if client.debug == nil || !client.debug.Enabled {
		t.Error("WithDebug should enable debugging")
	}
	if client.logger == nil {
		t.Error("WithDebug should install a logger when none is set")
	}
}

func TestWithRequestIDGenerator(t *testing.T) {
	client := New(
		WithSelfTuning(false),
		WithDebug(),
		WithRequestIDGenerator(func() string { return "fixed-id" }),
	)
	defer client.Close()

	if got := client.newRequestID(); got != "fixed-id" {
		t.Errorf("Custom generator not used, got %q", got)
	}
}
