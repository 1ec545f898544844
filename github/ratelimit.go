package github

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimit represents GitHub's rate limit information
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// parseRateLimit parses rate limit information from response headers. It reports false when
// the remaining-quota header is missing or malformed.
func parseRateLimit(h http.Header) (RateLimit, bool) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return RateLimit{}, false
	}
	limit, _ := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	reset, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)

	rl := RateLimit{Limit: limit, Remaining: remaining}
	if reset > 0 {
		rl.Reset = time.Unix(reset, 0).UTC()
	}
	return rl, true
}

// RateLimiter tracks the process-wide GitHub quota. It is shared by every client and safe for
// concurrent use.
type RateLimiter struct {
	mu    sync.Mutex
	known bool
	state RateLimit
}

// NewRateLimiter returns a limiter with no quota information; it allows requests until the
// first response reports otherwise.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{}
}

// Update records quota information from response headers. Responses without rate-limit headers
// leave the previous state untouched.
func (l *RateLimiter) Update(h http.Header) bool {
	rl, ok := parseRateLimit(h)
	if !ok {
		return false
	}
	l.Observe(rl)
	return true
}

// Observe records quota information obtained some other way.
func (l *RateLimiter) Observe(rl RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.known = true
	l.state = rl
}

// IsLimited reports whether the quota is exhausted and the reset time is still ahead of now.
func (l *RateLimiter) IsLimited(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.known && l.state.Remaining <= 0 && now.Before(l.state.Reset)
}

// Snapshot returns the last observed quota and whether any has been observed.
func (l *RateLimiter) Snapshot() (RateLimit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.known
}

// LowQuota reports whether fewer than threshold requests remain before the reset.
func (l *RateLimiter) LowQuota(now time.Time, threshold int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.known || !now.Before(l.state.Reset) {
		return false
	}
	return l.state.Remaining < threshold
}
