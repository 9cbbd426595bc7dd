package gateway

import (
	"sync"
	"time"
)

// Default per-client limits.
const (
	DefaultRequestsPerMinute = 60
	DefaultMaxConcurrent     = 10
)

// Rejection reasons returned by Acquire.
const (
	reasonConcurrent = "too many concurrent requests"
	reasonRate       = "rate limit exceeded"
)

// ClientRateLimiter implements sliding window rate limiting per client.
// ai.suggest calls stay in flight while they wait on their tab's lane, so
// the concurrency cap also bounds how much one client can queue.
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter creates a new rate limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(DefaultRequestsPerMinute, DefaultMaxConcurrent)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits.
// Non-positive values fall back to the defaults.
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Acquire checks the limits and, when allowed, records the request start
// in the same critical section.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests >= r.maxConcurrent {
		return false, reasonConcurrent
	}
	r.pruneLocked()
	if len(r.requests) >= r.requestsPerMinute {
		return false, reasonRate
	}

	r.requests = append(r.requests, r.now())
	r.concurrentRequests++
	return true, ""
}

// RecordRequestEnd records the end of a request
func (r *ClientRateLimiter) RecordRequestEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// UpdateLimits updates the rate limits
func (r *ClientRateLimiter) UpdateLimits(requestsPerMinute, maxConcurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requestsPerMinute > 0 {
		r.requestsPerMinute = requestsPerMinute
	}
	if maxConcurrent > 0 {
		r.maxConcurrent = maxConcurrent
	}
}

// GetStats returns the requests started in the last minute and those still running.
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return len(r.requests), r.concurrentRequests
}

// pruneLocked drops request timestamps older than one minute.
func (r *ClientRateLimiter) pruneLocked() {
	cutoff := r.now().Add(-time.Minute)
	kept := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.requests = kept
}
