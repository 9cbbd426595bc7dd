package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_Windows(t *testing.T) {
	t.Run("allows requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(10, 5)

		for i := 0; i < 5; i++ {
			allowed, reason := limiter.Acquire()
			assert.True(t, allowed)
			assert.Empty(t, reason)
		}
	})

	t.Run("rejects when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(5, 10)
		for i := 0; i < 5; i++ {
			allowed, _ := limiter.Acquire()
			assert.True(t, allowed)
			limiter.RecordRequestEnd()
		}

		allowed, reason := limiter.Acquire()
		assert.False(t, allowed)
		assert.Equal(t, "rate limit exceeded", reason)
	})

	t.Run("allows requests after window expires", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		limiter := NewClientRateLimiterWithLimits(2, 10)
		limiter.now = func() time.Time { return now }

		for i := 0; i < 2; i++ {
			allowed, _ := limiter.Acquire()
			assert.True(t, allowed)
			limiter.RecordRequestEnd()
		}
		allowed, _ := limiter.Acquire()
		assert.False(t, allowed)

		now = now.Add(61 * time.Second)
		allowed, _ = limiter.Acquire()
		assert.True(t, allowed)

		requests, concurrent := limiter.GetStats()
		assert.Equal(t, 1, requests)
		assert.Equal(t, 1, concurrent)
	})
}

func TestClientRateLimiter_Acquire(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(100, 2)

	ok, _ := limiter.Acquire()
	assert.True(t, ok)
	ok, _ = limiter.Acquire()
	assert.True(t, ok)

	ok, reason := limiter.Acquire()
	assert.False(t, ok)
	assert.Equal(t, "too many concurrent requests", reason)

	limiter.RecordRequestEnd()
	ok, _ = limiter.Acquire()
	assert.True(t, ok)

	requests, concurrent := limiter.GetStats()
	assert.Equal(t, 3, requests)
	assert.Equal(t, 2, concurrent)
}

func TestClientRateLimiter_RecordRequestEnd(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(100, 10)

	limiter.Acquire()
	limiter.Acquire()
	limiter.RecordRequestEnd()
	limiter.RecordRequestEnd()
	limiter.RecordRequestEnd()

	_, concurrent := limiter.GetStats()
	assert.Equal(t, 0, concurrent)
}

func TestClientRateLimiter_Limits(t *testing.T) {
	t.Run("non-positive limits use defaults", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(0, -1)
		assert.Equal(t, DefaultRequestsPerMinute, limiter.requestsPerMinute)
		assert.Equal(t, DefaultMaxConcurrent, limiter.maxConcurrent)
	})

	t.Run("update limits", func(t *testing.T) {
		limiter := NewClientRateLimiter()
		limiter.UpdateLimits(20, 4)
		assert.Equal(t, 20, limiter.requestsPerMinute)
		assert.Equal(t, 4, limiter.maxConcurrent)

		limiter.UpdateLimits(0, 0)
		assert.Equal(t, 20, limiter.requestsPerMinute)
		assert.Equal(t, 4, limiter.maxConcurrent)
	})
}
