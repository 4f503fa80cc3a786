package laiqclient

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		NetworkWait: time.Millisecond,
		ServerWait:  time.Millisecond,
		RateWait:    time.Millisecond,
	}
}

func TestRecoveryNetworkErrorRetries(t *testing.T) {
	e := NewRecoveryEngine(fastRecoveryConfig())
	defer e.Close()

	outcome := e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeNetwork}, 0)
	if !outcome.Recovered || outcome.Action != ActionRetry {
		t.Errorf("Network error should recover with a retry, got %+v", outcome)
	}

	outcome = e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeTimeout}, 0)
	if !outcome.Recovered || outcome.Action != ActionRetry {
		t.Errorf("Timeout should take the network strategy, got %+v", outcome)
	}
}

func TestRecoveryServerErrorRetries(t *testing.T) {
	e := NewRecoveryEngine(fastRecoveryConfig())
	defer e.Close()

	outcome := e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeHTTP, StatusCode: 502}, 0)
	if !outcome.Recovered || outcome.Action != ActionRetry {
		t.Errorf("5xx should recover with a retry, got %+v", outcome)
	}

	// Plain client errors have no automated remedy.
	outcome = e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeHTTP, StatusCode: 404}, 0)
	if outcome.Recovered || outcome.Action != ActionNone {
		t.Errorf("404 should not recover, got %+v", outcome)
	}
}

func TestRecoveryRateLimitHonorsRetryAfter(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.RateWait = time.Millisecond
	e := NewRecoveryEngine(cfg)
	defer e.Close()

	start := time.Now()
	outcome := e.AttemptRecovery(context.Background(), &APIError{
		Type:       ErrorTypeRateLimit,
		StatusCode: 429,
		RetryAfter: 50 * time.Millisecond,
	}, 0)
	if !outcome.Recovered || outcome.Action != ActionRetry {
		t.Fatalf("Rate limit should recover with a retry, got %+v", outcome)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Server's Retry-After must win over the default wait, waited only %v", elapsed)
	}
}

func TestRecoveryAuthRefreshThenRetry(t *testing.T) {
	var refreshed atomic.Int64
	cfg := fastRecoveryConfig()
	cfg.Refresh = func(ctx context.Context, role Role, staleToken string) error {
		refreshed.Add(1)
		return nil
	}
	e := NewRecoveryEngine(cfg)
	defer e.Close()

	outcome := e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeAuth, Endpoint: "/orders"}, 0)
	if !outcome.Recovered || outcome.Action != ActionRetry {
		t.Errorf("Successful refresh should retry, got %+v", outcome)
	}
	if refreshed.Load() != 1 {
		t.Errorf("Expected one refresh call, got %d", refreshed.Load())
	}
}

func TestRecoveryAuthFailureRedirectsOnce(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.Refresh = func(ctx context.Context, role Role, staleToken string) error {
		return errors.New("refresh rejected")
	}
	cfg.IsAdmin = func(endpoint string) bool { return strings.HasPrefix(endpoint, "/admin/") }
	e := NewRecoveryEngine(cfg)
	defer e.Close()

	first := e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeAuth, Endpoint: "/orders"}, 0)
	if first.Action != ActionRedirect || first.RedirectTo != customerLoginPath {
		t.Fatalf("Expected customer login redirect, got %+v", first)
	}

	// Second consecutive failed refresh must not redirect again.
	second := e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeAuth, Endpoint: "/orders"}, 0)
	if second.Action == ActionRedirect {
		t.Error("Second failed refresh produced a second redirect")
	}
}

func TestRecoveryAuthAdminRedirectTarget(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.Refresh = func(ctx context.Context, role Role, staleToken string) error {
		return errors.New("refresh rejected")
	}
	cfg.IsAdmin = func(endpoint string) bool { return strings.HasPrefix(endpoint, "/admin/") }
	e := NewRecoveryEngine(cfg)
	defer e.Close()

	outcome := e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeAuth, Endpoint: "/admin/orders"}, 0)
	if outcome.Action != ActionRedirect || outcome.RedirectTo != adminLoginPath {
		t.Errorf("Expected admin login redirect, got %+v", outcome)
	}
}

func TestRecoveryBreakerSuppressesRecovery(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.Breaker = NewErrorRateBreaker(3, time.Minute)
	e := NewRecoveryEngine(cfg)
	defer e.Close()

	var critical atomic.Int64
	e.OnError(func(err *APIError) {
		if err.Type == ErrorTypeCritical {
			critical.Add(1)
		}
	})

	for i := 0; i < 5; i++ {
		e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeNetwork}, 0)
	}

	outcome := e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeNetwork}, 0)
	if outcome.Recovered {
		t.Error("Tripped breaker must suppress recovery")
	}
	if critical.Load() != 1 {
		t.Errorf("Expected exactly one critical notice per window, got %d", critical.Load())
	}
}

func TestRecoveryObserversSeeEveryError(t *testing.T) {
	e := NewRecoveryEngine(fastRecoveryConfig())
	defer e.Close()

	var seen atomic.Int64
	unsubscribe := e.OnError(func(err *APIError) { seen.Add(1) })

	e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeHTTP, StatusCode: 404}, 0)
	e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeNetwork}, 0)
	if seen.Load() != 2 {
		t.Errorf("Expected 2 observed errors, got %d", seen.Load())
	}

	unsubscribe()
	e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeNetwork}, 0)
	if seen.Load() != 2 {
		t.Error("Unsubscribed observer was still notified")
	}
}

func TestRecoveryCustomStrategy(t *testing.T) {
	e := NewRecoveryEngine(fastRecoveryConfig())
	defer e.Close()

	e.AddStrategy(RecoveryStrategy{
		Name:  "teapot",
		Match: func(err *APIError) bool { return err.StatusCode == 418 },
		Apply: func(err *APIError, attempt int) RecoveryOutcome {
			return RecoveryOutcome{Recovered: true, Action: ActionRetry}
		},
	})

	outcome := e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeHTTP, StatusCode: 418}, 0)
	if !outcome.Recovered {
		t.Error("Custom strategy not consulted")
	}

	if !e.RemoveStrategy("teapot") {
		t.Error("RemoveStrategy should report the strategy existed")
	}
	outcome = e.AttemptRecovery(context.Background(), &APIError{Type: ErrorTypeHTTP, StatusCode: 418}, 0)
	if outcome.Recovered {
		t.Error("Removed strategy still applied")
	}
}

func TestRecoveryMaxRetriesClamped(t *testing.T) {
	e := NewRecoveryEngine(fastRecoveryConfig())
	defer e.Close()

	e.SetMaxRetries(0)
	if got := e.MaxRetries(); got != 1 {
		t.Errorf("Expected clamp to 1, got %d", got)
	}
	e.SetMaxRetries(99)
	if got := e.MaxRetries(); got != 10 {
		t.Errorf("Expected clamp to 10, got %d", got)
	}
}
