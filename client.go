package laiqclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Client is the storefront API client. It layers credential resolution,
// response caching, in-flight deduplication, batching, and failure
// recovery over a plain HTTP transport.
//
// All methods are safe for concurrent use.
type Client struct {
	// configuration, populated by options
	baseURL          string
	pageOrigin       string
	httpClient       *http.Client
	timeout          time.Duration
	defaultTTL       time.Duration
	cacheMaxEntries  int
	sweepInterval    time.Duration
	persist          PersistentStore
	feed             ChangeFeed
	credStore        CredentialStore
	adminPrefixes    []string
	adminPatterns    []string
	crossRoleFb      bool
	filter           RequestFilter
	rateLimiter      *RateLimiter
	batchWindow      atomic.Int64 // nanoseconds
	maxBatchSize     int
	maxRetries       int
	selfTune         bool
	tuneInterval     time.Duration
	breakerThreshold int
	breakerWindow    time.Duration
	networkWait      time.Duration
	serverWait       time.Duration
	rateWait         time.Duration
	extraStrategies  []RecoveryStrategy
	redirectHandler  func(path string)
	logger           Logger
	debug            *DebugConfig
	metrics          *MetricsCollector
	validationError  error

	// wired components
	resolver *TokenResolver
	executor *Executor
	cache    *CacheStore
	recovery *RecoveryEngine
	auth     *AuthManager
	inflight *inflightTracker
	batcher  *batcher

	totalRequests atomic.Int64
	cacheHits     atomic.Int64
	dedupHits     atomic.Int64
	batched       atomic.Int64
	failures      atomic.Int64

	stop      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// ClientStats is a point-in-time snapshot of client activity.
type ClientStats struct {
	TotalRequests   int64
	CacheHits       int64
	DedupHits       int64
	BatchedRequests int64
	Failures        int64
	Cache           CacheStats
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	c := &Client{
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		timeout:          60 * time.Second,
		defaultTTL:       5 * time.Minute,
		cacheMaxEntries:  100,
		sweepInterval:    time.Minute,
		credStore:        NewMemoryCredentialStore(),
		crossRoleFb:      true,
		maxBatchSize:     10,
		maxRetries:       3,
		selfTune:         true,
		tuneInterval:     2 * time.Minute,
		breakerThreshold: 5,
		breakerWindow:    60 * time.Second,
		networkWait:      2 * time.Second,
		serverWait:       5 * time.Second,
		rateWait:         10 * time.Second,
		debug:            DefaultDebugConfig(),
		stop:             make(chan struct{}),
	}
	c.batchWindow.Store(int64(100 * time.Millisecond))

	for _, option := range options {
		option(c)
	}

	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
	}

	c.wire()

	if c.selfTune {
		go c.tuneLoop()
	}
	return c
}

func (c *Client) wire() {
	c.resolver = NewTokenResolver(c.credStore, c.logger)
	if len(c.adminPrefixes) > 0 {
		c.resolver.adminRoutePrefixes = c.adminPrefixes
	}
	if len(c.adminPatterns) > 0 {
		c.resolver.adminPagePatterns = c.adminPatterns
	}
	c.resolver.crossRoleFallback = c.crossRoleFb

	c.executor = NewExecutor(ExecutorConfig{
		BaseURL:        c.baseURL,
		PageOrigin:     c.pageOrigin,
		HTTPClient:     c.httpClient,
		DefaultTimeout: c.timeout,
		Resolver:       c.resolver,
		Credentials:    c.credStore,
		Filter:         c.filter,
		WarmLimiter:    NewRateLimiter(10, 6*time.Second),
		Logger:         c.logger,
		Debug:          c.debug,
		Metrics:        c.metrics,
	})

	c.cache = NewCacheStore(CacheConfig{
		MaxEntries:    c.cacheMaxEntries,
		DefaultTTL:    c.defaultTTL,
		SweepInterval: c.sweepInterval,
		Persist:       c.persist,
		Feed:          c.feed,
		Logger:        c.logger,
		Metrics:       c.metrics,
	})

	c.auth = NewAuthManager(c.executor, c.credStore, c.logger)

	c.recovery = NewRecoveryEngine(RecoveryConfig{
		Breaker:     NewErrorRateBreaker(c.breakerThreshold, c.breakerWindow),
		Refresh:     c.auth.RefreshWithToken,
		IsAdmin:     c.resolver.IsAdminEndpoint,
		MaxRetries:  c.maxRetries,
		NetworkWait: c.networkWait,
		ServerWait:  c.serverWait,
		RateWait:    c.rateWait,
		Logger:      c.logger,
		Debug:       c.debug,
		Metrics:     c.metrics,
	})
	for _, s := range c.extraStrategies {
		c.recovery.AddStrategy(s)
	}

	c.inflight = newInflightTracker()
	c.batcher = newBatcher(c)
}

// Request performs one logical API call: cache lookup, in-flight
// deduplication, execution with recovery, and cache fill on success.
func (c *Client) Request(ctx context.Context, endpoint string, opts *RequestOptions) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = "GET"
	}

	c.totalRequests.Add(1)
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		return nil, &APIError{
			Type:      ErrorTypeRateLimit,
			Message:   "client-side rate limit exceeded",
			Method:    method,
			Endpoint:  endpoint,
			Timestamp: time.Now(),
		}
	}

	requestID := c.newRequestID()
	key := requestKey(method, endpoint, opts.Params)
	cacheable := method == "GET" && !opts.SkipCache

	if cacheable {
		if cached, ok := c.cache.Get(key); ok {
			c.cacheHits.Add(1)
			if c.metrics != nil {
				c.metrics.RecordCacheHit()
			}
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Cache hit", "key", key, "requestID", requestID)
			}
			return responseFromCached(cached), nil
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}
	}

	// Mutating calls are never coalesced.
	if !cacheable {
		resp, err := c.doWithRecovery(ctx, endpoint, opts, requestID)
		if err == nil && isWrite(method) {
			c.invalidateAfterWrite(endpoint)
		}
		return resp, err
	}

	entry, owner := c.inflight.getOrCreate(key)
	if !owner {
		c.dedupHits.Add(1)
		if c.metrics != nil {
			c.metrics.RecordDedupHit()
		}
		return entry.wait(ctx)
	}

	resp, err := c.doWithRecovery(ctx, endpoint, opts, requestID)
	if err == nil {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		c.cache.Set(key, Cached{
			Value:      resp.Body,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
		}, ttl)
	}
	c.inflight.complete(key, resp, err)
	return resp, err
}

// Get is shorthand for a GET Request.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	return c.Request(ctx, endpoint, &RequestOptions{Method: "GET", Params: params})
}

// Post is shorthand for a POST Request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, endpoint, &RequestOptions{Method: "POST", Body: body})
}

// Put is shorthand for a PUT Request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, endpoint, &RequestOptions{Method: "PUT", Body: body})
}

// Delete is shorthand for a DELETE Request.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Request(ctx, endpoint, &RequestOptions{Method: "DELETE"})
}

func (c *Client) doWithRecovery(ctx context.Context, endpoint string, opts *RequestOptions, requestID string) (*Response, error) {
	max := c.recovery.MaxRetries()
	for attempt := 0; ; attempt++ {
		resp, err := c.executor.Execute(ctx, endpoint, opts, requestID)
		if err == nil {
			return resp, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			c.failures.Add(1)
			return nil, err
		}
		apiErr.Attempt = attempt

		if attempt >= max || ctx.Err() != nil {
			c.recovery.notify(apiErr)
			c.failures.Add(1)
			return nil, err
		}

		outcome := c.recovery.AttemptRecovery(ctx, apiErr, attempt)
		switch outcome.Action {
		case ActionRetry:
			if c.metrics != nil {
				c.metrics.RecordRetry()
			}
			continue
		case ActionRedirect:
			c.redirect(outcome.RedirectTo)
			c.failures.Add(1)
			return nil, err
		default:
			c.failures.Add(1)
			return nil, err
		}
	}
}

func (c *Client) redirect(path string) {
	if c.redirectHandler != nil {
		c.redirectHandler(path)
		return
	}
	if c.logger != nil {
		c.logger.Warn("Redirect requested but no handler installed", "path", path)
	}
}

// invalidateAfterWrite drops cached reads under the written resource so
// the next fetch observes the mutation.
func (c *Client) invalidateAfterWrite(endpoint string) {
	base := endpoint
	if i := strings.LastIndex(strings.TrimSuffix(base, "/"), "/"); i > 0 {
		base = base[:i]
	}
	c.cache.InvalidatePattern(base)
}

// Login authenticates under role and stores the resulting credential.
func (c *Client) Login(ctx context.Context, email, password string, role Role) (*Credential, error) {
	return c.auth.Login(ctx, email, password, role)
}

// Logout clears the role's credential.
func (c *Client) Logout(ctx context.Context, role Role) error {
	return c.auth.Logout(ctx, role)
}

// CheckAuth reports whether a live credential exists for role.
func (c *Client) CheckAuth(role Role) bool {
	return c.auth.CheckAuth(role)
}

// AuthHeader returns the Authorization header value for role when a live
// credential is stored.
func (c *Client) AuthHeader(role Role) (string, bool) {
	return c.auth.AuthHeader(role)
}

// OnAuthChange subscribes to auth transitions; the returned function
// unsubscribes.
func (c *Client) OnAuthChange(fn func(AuthEvent)) func() {
	return c.auth.OnAuthChange(fn)
}

// AddRecoveryStrategy appends a strategy to the recovery chain at runtime.
func (c *Client) AddRecoveryStrategy(s RecoveryStrategy) {
	c.recovery.AddStrategy(s)
}

// RemoveRecoveryStrategy removes a named strategy from the recovery chain.
func (c *Client) RemoveRecoveryStrategy(name string) bool {
	return c.recovery.RemoveStrategy(name)
}

// OnError subscribes to every error the recovery engine observes.
func (c *Client) OnError(fn func(*APIError)) func() {
	return c.recovery.OnError(fn)
}

// Wrap returns fn with error-boundary behavior: any error it returns is
// routed to the OnError observers before being handed back to the caller.
func (c *Client) Wrap(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil {
			c.reportError(err)
		}
		return err
	}
}

// Go runs fn on its own goroutine with error-boundary behavior: returned
// errors and panics reach the OnError observers instead of crashing the
// host. Fire-and-forget UI work uses this instead of a bare goroutine.
func (c *Client) Go(ctx context.Context, fn func(context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.reportError(&APIError{
					Type:      ErrorTypeCritical,
					Message:   fmt.Sprintf("panic: %v", r),
					Timestamp: time.Now(),
				})
			}
		}()
		if err := fn(ctx); err != nil {
			c.reportError(err)
		}
	}()
}

func (c *Client) reportError(err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = &APIError{
			Type:      ErrorTypeUnknown,
			Message:   err.Error(),
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	if c.logger != nil {
		c.logger.Error("Unhandled error", "type", apiErr.Type, "error", apiErr.Message)
	}
	c.recovery.notify(apiErr)
}

// CacheGet exposes the cache read path for direct use.
func (c *Client) CacheGet(key string) (*Cached, bool) { return c.cache.Get(key) }

// CacheSet stores a value under key with ttl (0 means the default TTL).
func (c *Client) CacheSet(key string, cached Cached, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.cache.Set(key, cached, ttl)
}

// CacheDelete removes one entry; it reports whether it existed.
func (c *Client) CacheDelete(key string) bool { return c.cache.Delete(key) }

// CacheClear empties the cache and returns the number of removed entries.
func (c *Client) CacheClear() int { return c.cache.Clear() }

// CacheInvalidatePattern removes entries whose key contains substr.
func (c *Client) CacheInvalidatePattern(substr string) int {
	return c.cache.InvalidatePattern(substr)
}

// CacheStats returns aggregate cache state.
func (c *Client) CacheStats() CacheStats { return c.cache.Stats() }

// Stats returns a snapshot of client activity counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		TotalRequests:   c.totalRequests.Load(),
		CacheHits:       c.cacheHits.Load(),
		DedupHits:       c.dedupHits.Load(),
		BatchedRequests: c.batched.Load(),
		Failures:        c.failures.Load(),
		Cache:           c.cache.Stats(),
	}
}

// IsValid reports whether the configuration passed validation.
func (c *Client) IsValid() bool { return c.validationError == nil }

// ValidationError returns the configuration error captured at New, if any.
func (c *Client) ValidationError() error { return c.validationError }

// Close releases background resources: the cache sweeper, pending warm-up
// timers, recovery waits, and the self-tuning loop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.cache.Close()
		c.executor.Close()
		c.recovery.Close()
		if c.feed != nil {
			_ = c.feed.Close()
		}
	})
}

func (c *Client) newRequestID() string {
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return defaultRequestID()
}

func isWrite(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

// requestKey identifies a logical request for caching and deduplication.
// Params are encoded in sorted order so equivalent requests collide.
func requestKey(method, endpoint string, params url.Values) string {
	if len(params) == 0 {
		return method + " " + endpoint
	}
	return method + " " + endpoint + "?" + params.Encode()
}

func responseFromCached(cached *Cached) *Response {
	body := make([]byte, len(cached.Value))
	copy(body, cached.Value)
	return &Response{
		StatusCode: cached.StatusCode,
		Header:     cached.Header.Clone(),
		Body:       body,
	}
}
