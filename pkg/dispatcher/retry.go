package dispatcher

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultMaxRetries applies when a submission does not set its own limit.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the wait before the first retry.
	DefaultBaseDelay = time.Second
	// DefaultMaxDelay caps any single backoff wait.
	DefaultMaxDelay = 30 * time.Second
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Decision is the outcome of a retry evaluation.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy decides whether a failed attempt is retried and how long to wait.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Classify reports whether an error is transient. Nil means IsRetryable.
	Classify func(error) bool
}

// DefaultRetryPolicy doubles from one second and never waits longer than thirty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		Classify:  IsRetryable,
	}
}

func (p RetryPolicy) retryable(err error) bool {
	if err == nil {
		return false
	}
	if p.Classify != nil {
		return p.Classify(err)
	}
	return IsRetryable(err)
}

// Backoff returns the wait before retry n (1-indexed): BaseDelay * 2^(n-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		if delay > time.Duration(1<<62)/2 {
			break
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// ShouldRetry evaluates a failed attempt. attempt is the number of retries already made.
func (p RetryPolicy) ShouldRetry(err error, attempt, maxRetries int) Decision {
	if err == nil || attempt >= maxRetries {
		return Decision{}
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, ErrCancelled) {
		return Decision{}
	}
	if !p.retryable(err) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Backoff(attempt + 1)}
}

var statusPattern = regexp.MustCompile(`(?:^|[^0-9])(429|5[0-9]{2})(?:[^0-9]|$)`)

// IsRetryable reports whether err looks like rate limiting or a server error.
// A StatusCoder in the chain wins; otherwise the message is scanned for a 429 or 5xx
// status or a rate limit phrase.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.HTTPStatus(); code > 0 {
			return IsRetryableStatus(code)
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return true
	}
	return statusPattern.MatchString(msg)
}

// IsRetryableStatus reports whether an HTTP status is 429 or in the 5xx range.
func IsRetryableStatus(code int) bool {
	return code == 429 || (code >= 500 && code <= 599)
}
