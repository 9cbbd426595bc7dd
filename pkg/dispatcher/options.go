package dispatcher

import (
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	maxRetries int
	policy     RetryPolicy
	clock      clock.WithTicker
	logger     *zerolog.Logger
}

// WithDefaultMaxRetries sets the retry limit used when a submission does not set one.
func WithDefaultMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryPolicy replaces the backoff and classification policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithClock sets the clock used for backoff and wait warnings.
func WithClock(c clock.WithTicker) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	maxRetries int
	requestID  string
	warnAfter  time.Duration
	onWait     func(wait time.Duration, position int)
}

// WithMaxRetries sets how many times a transient failure is retried. 0 means one attempt.
func WithMaxRetries(n int) SubmitOption {
	return func(o *submitOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithRequestID uses id instead of a generated request ID.
func WithRequestID(id string) SubmitOption {
	return func(o *submitOptions) {
		o.requestID = id
	}
}

// WithWarnAfter logs a warning, and calls onWait if set, when the request is still
// queued after d. position counts the requests ahead of it, the in-flight one included.
func WithWarnAfter(d time.Duration, onWait func(wait time.Duration, position int)) SubmitOption {
	return func(o *submitOptions) {
		o.warnAfter = d
		o.onWait = onWait
	}
}
