package laiqclient

import (
	"net/http"
	"net/url"
	"time"
)

// Role identifies which credential slot a token belongs to. The backend
// issues separate tokens for the customer shop and the admin back-office.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Subject is the user record embedded in a credential.
type Subject struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Credential is a role-scoped bearer token plus its associated subject.
// Two credentials (one per role) may coexist in storage; at most one is
// attached to any outgoing request.
type Credential struct {
	Role    Role    `json:"role"`
	Token   string  `json:"token"`
	Subject Subject `json:"subject"`
}

// RequestOptions configures a single logical request.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	// Params are query parameters; they participate in the cache key.
	Params url.Values
	// Header entries are merged over the defaults.
	Header http.Header
	// Body is marshaled to JSON unless it is already a []byte.
	Body any
	// Timeout overrides the client default for this request.
	Timeout time.Duration
	// CacheTTL overrides the cache default TTL for this request.
	CacheTTL time.Duration
	// SkipCache bypasses both the cache lookup and the store on success.
	SkipCache bool
	// Keepalive detaches the request from the caller's cancellation so it
	// survives teardown (logout beacons). The timeout still applies.
	Keepalive bool
	// PageContext is the current page path, used for credential resolution
	// on non-admin endpoints.
	PageContext string
}

// Response is the settled result of a request: the raw JSON body plus
// transport metadata. Body is safe to retain; it is never shared with the
// transport after Execute returns.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Envelope is the backend's standard response wrapper.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BatchRequest is one member of an explicit batch.
type BatchRequest struct {
	Endpoint string
	Options  *RequestOptions
}

// BatchResult is the per-member outcome of a batch, in submission order.
type BatchResult struct {
	Success  bool
	Response *Response
	Err      error
}

// RecoveryAction is what the recovery engine asks the caller to do next.
type RecoveryAction int

const (
	ActionNone RecoveryAction = iota
	ActionRetry
	ActionRedirect
)

// RecoveryOutcome is the result of one recovery attempt.
type RecoveryOutcome struct {
	Recovered  bool
	Action     RecoveryAction
	RedirectTo string
}

// RecoveryStrategy maps an error pattern to an automated remediation.
// Strategies are consulted in registration order; the first match wins.
type RecoveryStrategy struct {
	Name  string
	Match func(err *APIError) bool
	Apply func(err *APIError, attempt int) RecoveryOutcome
}

// AuthEventType enumerates authentication state transitions.
type AuthEventType string

const (
	AuthLogin   AuthEventType = "login"
	AuthLogout  AuthEventType = "logout"
	AuthRefresh AuthEventType = "refresh"
	AuthExpired AuthEventType = "expired"
)

// AuthEvent is delivered to OnAuthChange subscribers.
type AuthEvent struct {
	Type AuthEventType
	Role Role
}

// RequestFilter inspects an outgoing request before it is sent. Returning a
// non-nil error blocks the request; the executor surfaces it as a network
// failure. This replaces an earlier global transport patch with an explicit
// allow/deny hook.
type RequestFilter func(req *http.Request) error

// Option configures a Client at construction time.
type Option func(*Client)

// CacheStats reports aggregate cache state, used by the self-tuning loop
// and exposed through the cache admin surface.
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	AvgAccessCount float64
	OldestCreated  time.Time
	NewestCreated  time.Time
	Hits           int64
	Misses         int64
	Evictions      int64
	Sets           int64
	HitRatio       float64
}
