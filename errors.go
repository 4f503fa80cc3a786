package laiqclient

import (
	"errors"
	"fmt"
	"time"
)

// Error type discriminators carried by APIError.Type.
const (
	ErrorTypeNetwork    = "Network"
	ErrorTypeTimeout    = "Timeout"
	ErrorTypeHTTP       = "HTTP"
	ErrorTypeAuth       = "Auth"
	ErrorTypeRateLimit  = "RateLimit"
	ErrorTypeBlocked    = "Blocked"
	ErrorTypeCritical   = "Critical"
	ErrorTypeValidation = "Validation"
	ErrorTypeUnknown    = "Unknown"
)

// Sentinel errors for common failure scenarios
var (
	// ErrTooManyFailures is returned once the error-rate breaker trips and
	// automated recovery is suppressed.
	ErrTooManyFailures = errors.New("laiqclient: too many errors, recovery suspended")

	// ErrClosed is returned when a request is issued after Close.
	ErrClosed = errors.New("laiqclient: client closed")
)

// APIError is the single typed error produced by the request path. Every
// failure carries enough context (status, endpoint, elapsed time) for the
// recovery engine and for logging.
type APIError struct {
	Type       string
	Message    string
	StatusCode int
	Method     string
	Endpoint   string
	RequestID  string
	Attempt    int
	// RetryAfter is the server-provided wait hint on 429 responses,
	// uncapped. The background warm-up replay applies its own cap.
	RetryAfter time.Duration
	// MixedContent marks a network failure caused by a secure page origin
	// calling an insecure API origin; it drives a distinct user message.
	MixedContent bool
	// StaleToken is the bearer token that was attached to a request that
	// came back 401. The 401 path wipes the credential store before the
	// recovery engine runs, so the refresh exchange needs the token
	// preserved here.
	StaleToken string
	Elapsed      time.Duration
	Timestamp    time.Time
	Cause        error
}

// Error implements error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*APIError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient reports whether an error represents a failure that might
// succeed on retry: network errors, timeouts, 5xx responses and 429.
// 4xx responses (except 429) and auth failures are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
			return true
		case ErrorTypeHTTP:
			return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
		default:
			return false
		}
	}

	return false
}

// UserMessage renders the user-facing message for an error, chosen by kind.
// The UI layer uses this for toasts on un-recovered failures.
func UserMessage(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, ErrTooManyFailures) {
			return "Too many errors. Please reload the page."
		}
		return err.Error()
	}

	switch apiErr.Type {
	case ErrorTypeAuth:
		return "Your session has expired. Please login again."
	case ErrorTypeNetwork:
		if apiErr.MixedContent {
			return "Connection blocked: this page is secure but the API is not."
		}
		return "Network problem. Please check your connection."
	case ErrorTypeTimeout:
		return "The request took too long. Please try again."
	case ErrorTypeRateLimit:
		return "Too many requests. Please wait a moment."
	case ErrorTypeCritical:
		return "Too many errors. Please reload the page."
	case ErrorTypeHTTP:
		if apiErr.StatusCode >= 500 {
			return "The service is temporarily unavailable."
		}
		return apiErr.Message
	default:
		return apiErr.Message
	}
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *APIError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		info += fmt.Sprintf("Retry After: %v\n", e.RetryAfter)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d\n", e.Attempt)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Elapsed > 0 {
		info += fmt.Sprintf("Elapsed: %v\n", e.Elapsed)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
