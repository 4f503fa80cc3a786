package laiqclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mhidayatsh/laiq-bags-client/internal/backoff"
)

// Login pages for role-appropriate redirects after a failed token refresh.
const (
	customerLoginPath = "/login.html"
	adminLoginPath    = "/admin-login.html"
)

// RefreshFunc attempts to renew the credential for role. The auth recovery
// strategy calls it before deciding between retry and redirect. staleToken
// is the token the failed request carried; by the time the strategy runs
// the 401 wipe has already emptied the store, so the exchange presents
// this token instead.
type RefreshFunc func(ctx context.Context, role Role, staleToken string) error

// RecoveryEngine matches failures against an ordered strategy list and
// applies the first matching remediation: refresh-then-retry for auth
// failures, a backoff wait then retry for transient ones, or nothing.
//
// A rolling error-rate breaker suppresses recovery entirely once failures
// pile up, surfacing one critical notice instead of a retry storm.
// Observers are notified of every error whether or not recovery succeeds.
type RecoveryEngine struct {
	mu         sync.RWMutex
	strategies []RecoveryStrategy

	breaker *ErrorRateBreaker

	observerMu   sync.RWMutex
	observers    map[int]func(*APIError)
	nextObserver int

	refresh     RefreshFunc
	isAdmin     func(endpoint string) bool
	maxRetries  int64
	waitJitter  backoff.Strategy
	networkWait time.Duration
	serverWait  time.Duration
	rateWait    time.Duration

	// redirect latch: one redirect per run of failed refreshes
	redirected int32

	stop      chan struct{}
	closeOnce sync.Once

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector
}

// RecoveryConfig wires a RecoveryEngine.
type RecoveryConfig struct {
	Breaker     *ErrorRateBreaker
	Refresh     RefreshFunc
	IsAdmin     func(endpoint string) bool
	MaxRetries  int
	NetworkWait time.Duration
	ServerWait  time.Duration
	RateWait    time.Duration
	Logger      Logger
	Debug       *DebugConfig
	Metrics     *MetricsCollector
}

// NewRecoveryEngine builds an engine with the default strategy order:
// auth, rateLimit, server, network.
func NewRecoveryEngine(cfg RecoveryConfig) *RecoveryEngine {
	if cfg.Breaker == nil {
		cfg.Breaker = NewErrorRateBreaker(5, 60*time.Second)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.NetworkWait <= 0 {
		cfg.NetworkWait = 2 * time.Second
	}
	if cfg.ServerWait <= 0 {
		cfg.ServerWait = 5 * time.Second
	}
	if cfg.RateWait <= 0 {
		cfg.RateWait = 10 * time.Second
	}

	e := &RecoveryEngine{
		breaker:     cfg.Breaker,
		observers:   make(map[int]func(*APIError)),
		refresh:     cfg.Refresh,
		isAdmin:     cfg.IsAdmin,
		maxRetries:  int64(cfg.MaxRetries),
		waitJitter:  backoff.GetExponentialJitter(),
		networkWait: cfg.NetworkWait,
		serverWait:  cfg.ServerWait,
		rateWait:    cfg.RateWait,
		stop:        make(chan struct{}),
		logger:      cfg.Logger,
		debug:       cfg.Debug,
		metrics:     cfg.Metrics,
	}

	e.strategies = []RecoveryStrategy{
		e.authStrategy(),
		e.rateLimitStrategy(),
		e.serverStrategy(),
		e.networkStrategy(),
	}
	return e
}

// AttemptRecovery classifies err, notifies observers, and applies the
// first matching strategy. The zero outcome means the caller should
// surface the error as-is.
func (e *RecoveryEngine) AttemptRecovery(ctx context.Context, apiErr *APIError, attempt int) RecoveryOutcome {
	e.notify(apiErr)

	if ctx.Err() != nil {
		return RecoveryOutcome{}
	}

	if e.breaker.Record() {
		if e.breaker.NoticeOnce() {
			critical := &APIError{
				Type:      ErrorTypeCritical,
				Message:   "too many errors, recovery suspended",
				Cause:     ErrTooManyFailures,
				Timestamp: time.Now(),
			}
			e.notify(critical)
			if e.logger != nil {
				e.logger.Error("Error-rate breaker tripped", "window_errors", e.breaker.Count())
			}
		}
		if e.metrics != nil {
			e.metrics.RecordBreakerTrip()
		}
		return RecoveryOutcome{}
	}

	e.mu.RLock()
	strategies := e.strategies
	e.mu.RUnlock()

	for _, s := range strategies {
		if !s.Match(apiErr) {
			continue
		}
		if e.debug != nil && e.debug.Enabled && e.debug.LogRecovery && e.logger != nil {
			e.logger.Info("Applying recovery strategy", "strategy", s.Name, "requestID", apiErr.RequestID, "attempt", attempt)
		}
		outcome := s.Apply(apiErr, attempt)
		if e.metrics != nil {
			e.metrics.RecordRecovery(s.Name, outcome.Recovered)
		}
		if e.logger != nil && !outcome.Recovered && outcome.Action == ActionNone {
			e.logger.Warn("Recovery strategy did not recover", "strategy", s.Name, "error", apiErr.Error())
		}
		return outcome
	}

	return RecoveryOutcome{}
}

// MaxRetries is the current retry ceiling; the self-tuner nudges it.
func (e *RecoveryEngine) MaxRetries() int {
	return int(atomic.LoadInt64(&e.maxRetries))
}

// SetMaxRetries updates the retry ceiling, clamped to [1, 10].
func (e *RecoveryEngine) SetMaxRetries(n int) {
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	atomic.StoreInt64(&e.maxRetries, int64(n))
}

// AddStrategy appends a strategy; it is consulted after the defaults.
func (e *RecoveryEngine) AddStrategy(s RecoveryStrategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, s)
}

// RemoveStrategy drops the named strategy; it reports whether it existed.
func (e *RecoveryEngine) RemoveStrategy(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.strategies {
		if s.Name == name {
			e.strategies = append(e.strategies[:i], e.strategies[i+1:]...)
			return true
		}
	}
	return false
}

// OnError registers an observer called for every error seen by the engine.
// The returned function unsubscribes it.
func (e *RecoveryEngine) OnError(fn func(*APIError)) func() {
	e.observerMu.Lock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	e.observerMu.Unlock()

	return func() {
		e.observerMu.Lock()
		delete(e.observers, id)
		e.observerMu.Unlock()
	}
}

// Close interrupts any in-progress backoff waits.
func (e *RecoveryEngine) Close() {
	e.closeOnce.Do(func() {
		close(e.stop)
	})
}

func (e *RecoveryEngine) notify(apiErr *APIError) {
	e.observerMu.RLock()
	defer e.observerMu.RUnlock()
	for _, fn := range e.observers {
		fn(apiErr)
	}
}

func (e *RecoveryEngine) authStrategy() RecoveryStrategy {
	return RecoveryStrategy{
		Name: "auth",
		Match: func(err *APIError) bool {
			return err.Type == ErrorTypeAuth
		},
		Apply: func(err *APIError, attempt int) RecoveryOutcome {
			role := RoleCustomer
			login := customerLoginPath
			if e.isAdmin != nil && e.isAdmin(err.Endpoint) {
				role = RoleAdmin
				login = adminLoginPath
			}

			if e.refresh != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				refreshErr := e.refresh(ctx, role, err.StaleToken)
				cancel()
				if refreshErr == nil {
					atomic.StoreInt32(&e.redirected, 0)
					return RecoveryOutcome{Recovered: true, Action: ActionRetry}
				}
				if e.logger != nil {
					e.logger.Warn("Token refresh failed", "role", role, "error", refreshErr.Error())
				}
			}

			// One redirect per run of failed refreshes: a second failed
			// refresh in succession must not redirect again.
			if atomic.CompareAndSwapInt32(&e.redirected, 0, 1) {
				return RecoveryOutcome{Action: ActionRedirect, RedirectTo: login}
			}
			return RecoveryOutcome{}
		},
	}
}

func (e *RecoveryEngine) rateLimitStrategy() RecoveryStrategy {
	return RecoveryStrategy{
		Name: "rateLimit",
		Match: func(err *APIError) bool {
			return err.Type == ErrorTypeRateLimit || err.StatusCode == 429
		},
		Apply: func(err *APIError, attempt int) RecoveryOutcome {
			wait := e.rateWait
			if err.RetryAfter > wait {
				wait = err.RetryAfter
			}
			if !e.wait(wait, attempt) {
				return RecoveryOutcome{}
			}
			return RecoveryOutcome{Recovered: true, Action: ActionRetry}
		},
	}
}

func (e *RecoveryEngine) serverStrategy() RecoveryStrategy {
	return RecoveryStrategy{
		Name: "server",
		Match: func(err *APIError) bool {
			return err.Type == ErrorTypeHTTP && err.StatusCode >= 500
		},
		Apply: func(err *APIError, attempt int) RecoveryOutcome {
			if !e.wait(e.serverWait, attempt) {
				return RecoveryOutcome{}
			}
			return RecoveryOutcome{Recovered: true, Action: ActionRetry}
		},
	}
}

func (e *RecoveryEngine) networkStrategy() RecoveryStrategy {
	return RecoveryStrategy{
		Name: "network",
		Match: func(err *APIError) bool {
			return err.Type == ErrorTypeNetwork || err.Type == ErrorTypeTimeout
		},
		Apply: func(err *APIError, attempt int) RecoveryOutcome {
			if !e.wait(e.networkWait, attempt) {
				return RecoveryOutcome{}
			}
			return RecoveryOutcome{Recovered: true, Action: ActionRetry}
		},
	}
}

// wait sleeps the jittered strategy delay; it returns false if the engine
// closed mid-wait.
func (e *RecoveryEngine) wait(base time.Duration, attempt int) bool {
	d := e.waitJitter.Calculate(attempt, base, 2*base, 1.0, 0.2)
	select {
	case <-time.After(d):
		return true
	case <-e.stop:
		return false
	}
}
