package laiqclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mhidayatsh/laiq-bags-client/internal/singleflight"
)

const (
	// maxResponseBody bounds how much of a response is read into memory.
	maxResponseBody = 10 * 1024 * 1024

	defaultWarmupDelay = time.Second
	// warmupDelayCap bounds the wait before a background warm-up replay.
	// The user-facing RetryAfter hint is intentionally not capped; the
	// speculative replay must not hold a goroutine for a long
	// server-demanded wait.
	warmupDelayCap = 5 * time.Second
)

// Executor performs a single network call: it builds the outgoing request,
// attaches the resolved credential, enforces the timeout, and classifies
// every failure into a typed *APIError. It never lets a raw transport
// error escape un-annotated.
type Executor struct {
	baseURL        string
	pageOrigin     string
	httpClient     *http.Client
	defaultTimeout time.Duration

	resolver    *TokenResolver
	credentials CredentialStore
	filter      RequestFilter

	warmGroup   *singleflight.Group
	warmLimiter *RateLimiter
	timers      *timerSet

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	BaseURL        string
	PageOrigin     string
	HTTPClient     *http.Client
	DefaultTimeout time.Duration
	Resolver       *TokenResolver
	Credentials    CredentialStore
	Filter         RequestFilter
	WarmLimiter    *RateLimiter
	Logger         Logger
	Debug          *DebugConfig
	Metrics        *MetricsCollector
}

// NewExecutor builds an executor with 60s default timeout.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	return &Executor{
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		pageOrigin:     cfg.PageOrigin,
		httpClient:     cfg.HTTPClient,
		defaultTimeout: cfg.DefaultTimeout,
		resolver:       cfg.Resolver,
		credentials:    cfg.Credentials,
		filter:         cfg.Filter,
		warmGroup:      singleflight.New(),
		warmLimiter:    cfg.WarmLimiter,
		timers:         newTimerSet(),
		logger:         cfg.Logger,
		debug:          cfg.Debug,
		metrics:        cfg.Metrics,
	}
}

// Execute performs one call and returns the parsed-ready response or a
// typed error.
func (e *Executor) Execute(ctx context.Context, endpoint string, opts *RequestOptions, requestID string) (*Response, error) {
	return e.do(ctx, endpoint, opts, requestID, false)
}

func (e *Executor) do(ctx context.Context, endpoint string, opts *RequestOptions, requestID string, warm bool) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if opts.Keepalive {
		// Unload-time requests must outlive the caller's cancellation;
		// only the timeout still bounds them.
		ctx = context.WithoutCancel(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	req, err := e.buildRequest(ctx, method, endpoint, opts)
	if err != nil {
		return nil, e.fail(ErrorTypeNetwork, "invalid request", err, method, endpoint, requestID, start)
	}

	if e.filter != nil {
		if ferr := e.filter(req); ferr != nil {
			if e.logger != nil {
				e.logger.Debug("Request blocked by filter", "requestID", requestID, "endpoint", endpoint, "reason", ferr.Error())
			}
			return nil, e.fail(ErrorTypeBlocked, "request blocked", ferr, method, endpoint, requestID, start)
		}
	}

	var attachedToken string
	if cred := e.resolver.Resolve(endpoint, opts.PageContext); cred != nil {
		attachedToken = cred.Token
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}

	if e.debug != nil && e.debug.Enabled && e.debug.LogRequests && e.logger != nil {
		e.logger.Debug("Sending request", "requestID", requestID, "method", method, "endpoint", endpoint)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			apiErr := e.fail(ErrorTypeTimeout,
				fmt.Sprintf("request to %s exceeded %v", endpoint, timeout),
				err, method, endpoint, requestID, start)
			return nil, apiErr
		}
		apiErr := e.fail(ErrorTypeNetwork, "network request failed", err, method, endpoint, requestID, start)
		if e.isMixedContent() {
			apiErr.MixedContent = true
			apiErr.Message = "network request failed (mixed content: secure page, insecure API)"
		}
		return nil, apiErr
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil && readErr != io.EOF {
		return nil, e.fail(ErrorTypeNetwork, "reading response failed", readErr, method, endpoint, requestID, start)
	}

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordRequest(method, endpoint, resp.StatusCode, elapsed)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// An invalid token on one role's endpoint means the sibling
		// credential is equally suspect; wipe both slots.
		if err := e.credentials.ClearAll(); err != nil && e.logger != nil {
			e.logger.Warn("Credential wipe failed after 401", "error", err.Error())
		}
		apiErr := e.fail(ErrorTypeAuth, e.errorMessage(body, resp.StatusCode), nil, method, endpoint, requestID, start)
		apiErr.StatusCode = resp.StatusCode
		apiErr.StaleToken = attachedToken
		return nil, apiErr

	case resp.StatusCode == http.StatusTooManyRequests:
		hint := parseRetryAfter(resp.Header.Get("Retry-After"))
		if hint == 0 {
			hint = defaultWarmupDelay
		}
		if !warm {
			e.scheduleWarmup(endpoint, opts, hint)
		}
		apiErr := e.fail(ErrorTypeRateLimit, e.errorMessage(body, resp.StatusCode), nil, method, endpoint, requestID, start)
		apiErr.StatusCode = resp.StatusCode
		apiErr.RetryAfter = hint
		return nil, apiErr

	case resp.StatusCode >= 400:
		apiErr := e.fail(ErrorTypeHTTP, e.errorMessage(body, resp.StatusCode), nil, method, endpoint, requestID, start)
		apiErr.StatusCode = resp.StatusCode
		return nil, apiErr
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// Close cancels every scheduled warm-up replay.
func (e *Executor) Close() {
	e.timers.stopAll()
}

func (e *Executor) buildRequest(ctx context.Context, method, endpoint string, opts *RequestOptions) (*http.Request, error) {
	target := e.baseURL + endpoint
	if len(opts.Params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target += sep + opts.Params.Encode()
	}

	var reader io.Reader
	hasBody := false
	if opts.Body != nil {
		hasBody = true
		switch b := opts.Body.(type) {
		case []byte:
			reader = bytes.NewReader(b)
		case json.RawMessage:
			reader = bytes.NewReader(b)
		case string:
			reader = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return req, nil
}

// scheduleWarmup schedules a best-effort background replay of a
// rate-limited call, solely to warm the shared cache for the next real
// caller. The replay discards its own result and never reschedules itself.
func (e *Executor) scheduleWarmup(endpoint string, opts *RequestOptions, hint time.Duration) {
	if e.warmLimiter != nil && !e.warmLimiter.Allow() {
		return
	}

	delay := hint
	if delay > warmupDelayCap {
		delay = warmupDelayCap
	}

	replay := *opts
	key := "warm:" + requestKey(replay.Method, endpoint, replay.Params)

	scheduled := e.timers.afterFunc(delay, func() {
		_, _, started := e.warmGroup.TryDo(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), e.defaultTimeout)
			defer cancel()
			return e.do(ctx, endpoint, &replay, "", true)
		})
		if started && e.logger != nil {
			e.logger.Debug("Rate-limit warm-up replayed", "endpoint", endpoint)
		}
	})
	if scheduled && e.logger != nil {
		e.logger.Debug("Rate-limit warm-up scheduled", "endpoint", endpoint, "delay", delay)
	}
}

// errorMessage extracts a human message from the backend's failure
// envelope, tolerating non-JSON bodies.
func (e *Executor) errorMessage(body []byte, status int) string {
	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return fmt.Sprintf("HTTP %d", status)
}

func (e *Executor) isMixedContent() bool {
	return strings.HasPrefix(e.pageOrigin, "https://") && strings.HasPrefix(e.baseURL, "http://")
}

func (e *Executor) fail(errType, message string, cause error, method, endpoint, requestID string, start time.Time) *APIError {
	if e.metrics != nil {
		e.metrics.RecordError(errType, method, endpoint)
	}
	return &APIError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Method:    method,
		Endpoint:  endpoint,
		RequestID: requestID,
		Elapsed:   time.Since(start),
		Timestamp: time.Now(),
	}
}

// parseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date format. The value is capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// timerSet tracks outstanding warm-up timers so Close can cancel them.
type timerSet struct {
	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[*time.Timer]struct{})}
}

// afterFunc schedules fn unless the set is stopped; it reports whether the
// timer was scheduled.
func (s *timerSet) afterFunc(d time.Duration, fn func()) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	s.timers[t] = struct{}{}
	s.mu.Unlock()
	return true
}

func (s *timerSet) stopAll() {
	s.mu.Lock()
	s.stopped = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
	s.mu.Unlock()
}
