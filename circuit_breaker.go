package laiqclient

import (
	"sync"
	"time"
)

// ErrorRateBreaker trips once more than Threshold errors occur within a
// rolling Window. While tripped, the recovery engine stops attempting
// recovery and surfaces a single critical notice instead of retrying,
// which prevents retry storms and redirect thrashing.
//
// The window slides continuously: each observation prunes timestamps older
// than Window, so a burst straddling any fixed boundary still trips.
type ErrorRateBreaker struct {
	threshold int
	window    time.Duration

	mu      sync.Mutex
	errors  []time.Time // error timestamps within the window, oldest first
	noticed bool        // critical notice latched until the rate drops
}

// NewErrorRateBreaker builds a breaker; zero values get the defaults of
// 5 errors per rolling 60 seconds.
func NewErrorRateBreaker(threshold int, window time.Duration) *ErrorRateBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &ErrorRateBreaker{
		threshold: threshold,
		window:    window,
	}
}

// Record counts one error and reports whether the breaker is now tripped.
func (b *ErrorRateBreaker) Record() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(now)
	b.errors = append(b.errors, now)
	return len(b.errors) > b.threshold
}

// Tripped reports whether the rolling window already exceeded the
// threshold, without counting a new error.
func (b *ErrorRateBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(time.Now())
	return len(b.errors) > b.threshold
}

// NoticeOnce returns true exactly once per tripped stretch, so the caller
// can emit a single critical notice instead of one per suppressed error.
// The latch re-arms when enough errors age out of the window.
func (b *ErrorRateBreaker) NoticeOnce() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(time.Now())
	if len(b.errors) <= b.threshold || b.noticed {
		return false
	}
	b.noticed = true
	return true
}

// Count reports the errors recorded in the current window.
func (b *ErrorRateBreaker) Count() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(time.Now())
	return int64(len(b.errors))
}

// pruneLocked drops timestamps that slid out of the window and re-arms the
// notice latch once the error rate is back under the threshold. The caller
// holds b.mu.
func (b *ErrorRateBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	drop := 0
	for drop < len(b.errors) && !b.errors[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		b.errors = append(b.errors[:0], b.errors[drop:]...)
	}
	if len(b.errors) <= b.threshold {
		b.noticed = false
	}
}
