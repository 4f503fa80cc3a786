package laiqclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WithBaseURL sets the API origin, e.g. "https://shop.example.com/api".
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithPageOrigin sets the origin the client runs under. When the page is
// https and the API base is plain http, failures are flagged as probable
// mixed-content blocks.
func WithPageOrigin(origin string) Option {
	return func(c *Client) {
		c.pageOrigin = origin
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithDefaultCacheTTL sets the TTL applied when a request does not
// override it.
func WithDefaultCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.defaultTTL = ttl
	}
}

// WithCacheMaxEntries bounds the cache; inserting past the bound evicts
// the least-used fifth.
func WithCacheMaxEntries(n int) Option {
	return func(c *Client) {
		c.cacheMaxEntries = n
	}
}

// WithSweepInterval sets how often expired entries are proactively purged.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.sweepInterval = interval
	}
}

// WithPersistentStore mirrors cache entries into a durable store so a new
// client instance starts warm.
func WithPersistentStore(store PersistentStore) Option {
	return func(c *Client) {
		c.persist = store
	}
}

// WithChangeFeed subscribes the cache to external change notifications so
// concurrent client instances converge.
func WithChangeFeed(feed ChangeFeed) Option {
	return func(c *Client) {
		c.feed = feed
	}
}

// WithCredentialStore replaces the in-memory credential store.
func WithCredentialStore(store CredentialStore) Option {
	return func(c *Client) {
		c.credStore = store
	}
}

// WithAdminRoutePrefixes overrides the endpoint prefixes that force the
// admin credential.
func WithAdminRoutePrefixes(prefixes ...string) Option {
	return func(c *Client) {
		c.adminPrefixes = prefixes
	}
}

// WithAdminPagePatterns overrides the page-context substrings that mark a
// back-office page.
func WithAdminPagePatterns(patterns ...string) Option {
	return func(c *Client) {
		c.adminPatterns = patterns
	}
}

// WithCrossRoleFallback controls whether a customer-slot token whose
// claims carry the admin role may authenticate admin endpoints. On by
// default, matching the admin-logged-in-through-the-shop flow.
func WithCrossRoleFallback(enabled bool) Option {
	return func(c *Client) {
		c.crossRoleFb = enabled
	}
}

// WithRequestFilter installs a pre-send allow/deny hook.
func WithRequestFilter(filter RequestFilter) Option {
	return func(c *Client) {
		c.filter = filter
	}
}

// WithRateLimiter throttles outgoing requests client-side.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithBatchWindow sets the initial accumulation window for Schedule.
// The self-tuner may adjust it later within [50ms, 200ms].
func WithBatchWindow(window time.Duration) Option {
	return func(c *Client) {
		c.batchWindow.Store(int64(window))
	}
}

// WithMaxBatchSize sets the flush threshold for a batching window.
func WithMaxBatchSize(n int) Option {
	return func(c *Client) {
		c.maxBatchSize = n
	}
}

// WithMaxRetries sets the initial retry ceiling for recoverable errors.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithSelfTuning enables or disables the periodic parameter tuner.
func WithSelfTuning(enabled bool) Option {
	return func(c *Client) {
		c.selfTune = enabled
	}
}

// WithTuneInterval sets how often the self-tuner runs.
func WithTuneInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.tuneInterval = interval
	}
}

// WithErrorRateBreaker sets the error count and window that suspend
// recovery.
func WithErrorRateBreaker(threshold int, window time.Duration) Option {
	return func(c *Client) {
		c.breakerThreshold = threshold
		c.breakerWindow = window
	}
}

// WithRecoveryWaits overrides the per-category waits before a retry.
func WithRecoveryWaits(network, server, rateLimit time.Duration) Option {
	return func(c *Client) {
		c.networkWait = network
		c.serverWait = server
		c.rateWait = rateLimit
	}
}

// WithRecoveryStrategy appends a custom strategy, consulted after the
// built-in ones.
func WithRecoveryStrategy(s RecoveryStrategy) Option {
	return func(c *Client) {
		c.extraStrategies = append(c.extraStrategies, s)
	}
}

// WithRedirectHandler installs the navigation hook invoked when recovery
// decides the user must re-authenticate.
func WithRedirectHandler(fn func(path string)) Option {
	return func(c *Client) {
		c.redirectHandler = fn
	}
}

// WithMetrics enables Prometheus metrics collection using the default
// registry.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a pre-built collector, e.g. one bound to a
// custom registry.
func WithMetricsCollector(m *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables the built-in logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with default settings.
func WithDebug() Option {
	return func(c *Client) {
		c.debug = DefaultDebugConfig()
		c.debug.Enabled = true
		if c.logger == nil {
			c.logger = NewSimpleLogger()
		}
	}
}

// WithDebugConfig sets fine-grained debug settings.
func WithDebugConfig(cfg *DebugConfig) Option {
	return func(c *Client) {
		c.debug = cfg
	}
}

// WithRequestIDGenerator overrides correlation ID generation.
func WithRequestIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = fn
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error if invalid.
func (c *Client) ValidateConfiguration() error {
	var issues []string

	issues = append(issues, c.validateTransportConfig()...)
	issues = append(issues, c.validateCacheConfig()...)
	issues = append(issues, c.validateBatchConfig()...)
	issues = append(issues, c.validateRecoveryConfig()...)
	issues = append(issues, c.validateRateLimiterConfig()...)

	if len(issues) > 0 {
		return &APIError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", issues),
		}
	}
	return nil
}

func (c *Client) validateTransportConfig() []string {
	var issues []string

	if c.baseURL != "" {
		if _, err := url.Parse(c.baseURL); err != nil {
			issues = append(issues, "baseURL must be a valid URL")
		}
	}
	if c.timeout <= 0 {
		issues = append(issues, "timeout must be positive")
	}
	if c.httpClient == nil {
		issues = append(issues, "httpClient must not be nil")
	}
	return issues
}

func (c *Client) validateCacheConfig() []string {
	var issues []string

	if c.defaultTTL <= 0 {
		issues = append(issues, "defaultCacheTTL must be positive")
	}
	if c.cacheMaxEntries <= 0 {
		issues = append(issues, "cacheMaxEntries must be positive")
	}
	if c.sweepInterval <= 0 {
		issues = append(issues, "sweepInterval must be positive")
	}
	if c.feed != nil && c.persist == nil {
		issues = append(issues, "a change feed requires a persistent store")
	}
	return issues
}

func (c *Client) validateBatchConfig() []string {
	var issues []string

	if c.maxBatchSize <= 0 {
		issues = append(issues, "maxBatchSize must be positive")
	}
	if w := time.Duration(c.batchWindow.Load()); w < minBatchWindow || w > maxBatchWindow {
		issues = append(issues, fmt.Sprintf("batchWindow must be between %v and %v", minBatchWindow, maxBatchWindow))
	}
	if c.selfTune && c.tuneInterval <= 0 {
		issues = append(issues, "tuneInterval must be positive when self-tuning is enabled")
	}
	return issues
}

func (c *Client) validateRecoveryConfig() []string {
	var issues []string

	if c.maxRetries < 0 {
		issues = append(issues, "maxRetries must be non-negative")
	}
	if c.breakerThreshold <= 0 {
		issues = append(issues, "breaker threshold must be positive")
	}
	if c.breakerWindow <= 0 {
		issues = append(issues, "breaker window must be positive")
	}
	if c.networkWait <= 0 || c.serverWait <= 0 || c.rateWait <= 0 {
		issues = append(issues, "recovery waits must be positive")
	}
	return issues
}

func (c *Client) validateRateLimiterConfig() []string {
	var issues []string

	if c.rateLimiter != nil {
		if c.rateLimiter.maxTokens <= 0 {
			issues = append(issues, "rateLimiter maxTokens must be positive")
		}
		if c.rateLimiter.refillRate <= 0 {
			issues = append(issues, "rateLimiter refillRate must be positive")
		}
	}
	return issues
}
