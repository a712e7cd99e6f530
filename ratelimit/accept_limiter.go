// Package ratelimit caps how often a single remote host may open connections.
package ratelimit

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// AcceptLimiter counts accepted connections per key (normally the remote IP)
// in fixed windows. A key's window starts with its first connection and its
// counter expires window later.
type AcceptLimiter struct {
	limit  int
	window time.Duration
	counts *cache.Cache
}

// NewAcceptLimiter creates a limiter allowing limit connections per key per
// window. A non-positive limit or window disables limiting.
//
// Parameters:
//   - limit: Maximum accepts per key in one window
//   - window: Length of a counting window
//
// Returns:
//   - A new *AcceptLimiter
func NewAcceptLimiter(limit int, window time.Duration) *AcceptLimiter {
	l := &AcceptLimiter{limit: limit, window: window}
	if l.Enabled() {
		l.counts = cache.New(window, 2*window)
	}

	return l
}

// Enabled reports whether the limiter rejects anything at all.
func (l *AcceptLimiter) Enabled() bool {
	return l.limit > 0 && l.window > 0
}

// Allow records one connection for key and reports whether it is within the limit.
//
// Parameters:
//   - key: Identity to count, e.g. "192.0.2.7"
//
// Returns:
//   - true if the connection should be kept
func (l *AcceptLimiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	if err := l.counts.Add(key, 1, l.window); err == nil {
		return true
	}

	n, err := l.counts.IncrementInt(key, 1)
	if err != nil {
		// expired between Add and IncrementInt
		l.counts.Set(key, 1, l.window)
		return true
	}

	return n <= l.limit
}

// Tracked returns the number of keys with a live window.
func (l *AcceptLimiter) Tracked() int {
	if !l.Enabled() {
		return 0
	}

	return l.counts.ItemCount()
}
