package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/jobats/internal/observability"
	"github.com/harun/jobats/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"k8s.io/utils/clock"
)

var (
	errTabClosed = errors.New("tab closed")
	errWithdrawn = errors.New("withdrawn by caller")
	errShutdown  = errors.New("dispatcher shutting down")
)

// workItem tracks one submitted request. All fields except op, ctx and
// future's result are guarded by Dispatcher.mu.
type workItem[K comparable] struct {
	id          string
	key         K
	op          Operation
	maxRetries  int
	ctx         context.Context
	runCtx      context.Context
	abort       context.CancelCauseFunc
	lane        *lane[K]
	future      *Future
	submittedAt time.Time
	attempts    int
	started     bool
	settled     bool
	stopWatch   func() bool
}

// lane holds the requests of one key. items[0] is in flight whenever the lane exists.
type lane[K comparable] struct {
	key   K
	items []*workItem[K]
}

type settlement[K comparable] struct {
	item     *workItem[K]
	outcome  Outcome
	err      error
	attempts int
	duration time.Duration
}

// Status is a point-in-time view of the dispatcher.
type Status[K comparable] struct {
	// Active counts keys with a request in flight.
	Active int `json:"active"`
	// Queued counts requests waiting behind an in-flight one.
	Queued int `json:"queued"`
	// ByTab holds the queued count per key. Keys with nothing queued are omitted.
	ByTab map[K]int `json:"byTab"`
}

// Dispatcher runs operations on per-key FIFO lanes with retry and cancellation.
type Dispatcher[K comparable] struct {
	mu         sync.Mutex
	lanes      map[K]*lane[K]
	requests   map[string]*workItem[K]
	maxRetries int
	policy     RetryPolicy
	clock      clock.WithTicker
	logger     zerolog.Logger
	closed     bool
	wg         sync.WaitGroup

	eventHandlers map[string][]EventHandler[K]
	eventMu       sync.RWMutex

	queueMu     sync.Mutex
	queue       []Event[K]
	queueClosed bool
	queueWake   chan struct{}
	queueDone   chan struct{}
}

// New creates an empty Dispatcher.
func New[K comparable](opts ...Option) *Dispatcher[K] {
	observability.EnsureRegistered()

	o := options{
		maxRetries: DefaultMaxRetries,
		policy:     DefaultRetryPolicy(),
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}

	d := &Dispatcher[K]{
		lanes:         make(map[K]*lane[K]),
		requests:      make(map[string]*workItem[K]),
		maxRetries:    o.maxRetries,
		policy:        o.policy,
		clock:         o.clock,
		logger:        logger.With().Str("component", "dispatcher").Logger(),
		eventHandlers: make(map[string][]EventHandler[K]),
		queueWake:     make(chan struct{}, 1),
		queueDone:     make(chan struct{}),
	}
	go d.deliverEvents()
	return d
}

// Enqueue submits op on key's lane and blocks until it settles.
// Cancelling ctx cancels the request.
func (d *Dispatcher[K]) Enqueue(ctx context.Context, key K, op Operation, opts ...SubmitOption) (interface{}, error) {
	return d.Submit(ctx, key, op, opts...).Result()
}

// Submit appends op to key's lane and returns without waiting. If the lane was idle
// op starts immediately. Cancelling ctx cancels the request.
func (d *Dispatcher[K]) Submit(ctx context.Context, key K, op Operation, opts ...SubmitOption) *Future {
	if ctx == nil {
		ctx = context.Background()
	}

	so := submitOptions{maxRetries: -1}
	for _, opt := range opts {
		opt(&so)
	}

	id := so.requestID
	if id == "" {
		id = tracing.NewRequestID()
	}
	future := newFuture(id)

	if op == nil {
		future.settle(nil, ErrNilOperation)
		return future
	}
	if ctx.Err() != nil {
		future.settle(nil, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx)))
		return future
	}

	ctx = tracing.WithRequestID(ctx, id)
	ctx = tracing.WithTabID(ctx, fmt.Sprint(key))
	logger := tracing.LoggerFromContext(ctx, d.logger)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		future.settle(nil, ErrClosed)
		return future
	}
	if _, dup := d.requests[id]; dup {
		d.mu.Unlock()
		future.settle(nil, fmt.Errorf("dispatcher: duplicate request id %q", id))
		return future
	}

	maxRetries := so.maxRetries
	if maxRetries < 0 {
		maxRetries = d.maxRetries
	}

	l, ok := d.lanes[key]
	if !ok {
		l = &lane[K]{key: key}
		d.lanes[key] = l
	}

	item := &workItem[K]{
		id:          id,
		key:         key,
		op:          op,
		maxRetries:  maxRetries,
		ctx:         ctx,
		lane:        l,
		future:      future,
		submittedAt: d.clock.Now(),
	}
	l.items = append(l.items, item)
	d.requests[id] = item

	position := len(l.items) - 1
	startNow := position == 0
	if startNow {
		d.startLocked(item)
	}
	if ctx.Done() != nil {
		item.stopWatch = context.AfterFunc(ctx, func() {
			d.cancelRequest(id, context.Cause(ctx))
		})
	}
	if so.warnAfter > 0 && !startNow {
		d.wg.Add(1)
		go d.warnIfWaiting(item, so.warnAfter, so.onWait)
	}
	active, queued := d.depthLocked()
	d.mu.Unlock()

	logger.Debug().
		Int("position", position).
		Int("maxRetries", maxRetries).
		Msg("Request enqueued")

	observability.RecordEnqueue(active, queued)

	d.emit(Event[K]{
		Type:      EventEnqueued,
		Key:       key,
		RequestID: id,
		Position:  position,
	})

	if startNow {
		go d.run(item)
	}

	return future
}

// startLocked prepares item to run. The caller launches d.run after releasing d.mu.
func (d *Dispatcher[K]) startLocked(item *workItem[K]) {
	item.runCtx, item.abort = context.WithCancelCause(item.ctx)
	item.started = true
	d.wg.Add(1)
}

// run executes item until it settles, waiting out backoff between attempts.
func (d *Dispatcher[K]) run(item *workItem[K]) {
	defer d.wg.Done()

	ctx, span := tracing.StartSpan(
		item.runCtx,
		"jobats.dispatcher",
		"dispatcher.run",
		attribute.String("request_id", item.id),
		attribute.String("tab_id", fmt.Sprint(item.key)),
	)
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	logger := tracing.LoggerFromContext(ctx, d.logger)

	for {
		d.mu.Lock()
		if item.settled {
			d.mu.Unlock()
			return
		}
		item.attempts++
		attempt := item.attempts
		d.mu.Unlock()

		d.emit(Event[K]{
			Type:      EventStarted,
			Key:       item.key,
			RequestID: item.id,
			Attempt:   attempt,
		})
		logger.Debug().Int("attempt", attempt).Msg("Request attempt started")

		start := d.clock.Now()
		value, err := invoke(ctx, item.op)
		observability.RecordAttempt(d.clock.Since(start))

		if item.runCtx.Err() != nil {
			spanErr = context.Cause(item.runCtx)
			d.cancelRequest(item.id, spanErr)
			return
		}

		if err == nil {
			d.finish(item, value, nil, OutcomeSucceeded)
			return
		}

		decision := d.policy.ShouldRetry(err, attempt-1, item.maxRetries)
		if !decision.Retry {
			outcome := OutcomeFailed
			if d.policy.retryable(err) {
				outcome = OutcomeExhausted
			}
			spanErr = err
			d.finish(item, nil, err, outcome)
			return
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", decision.Delay).
			Msg("Transient failure, retrying")
		observability.RecordRetry()

		timer := d.clock.NewTimer(decision.Delay)
		d.emit(Event[K]{
			Type:      EventRetrying,
			Key:       item.key,
			RequestID: item.id,
			Attempt:   attempt,
			Delay:     decision.Delay,
			Err:       err,
		})

		select {
		case <-timer.C():
		case <-item.runCtx.Done():
			timer.Stop()
		}

		if item.runCtx.Err() != nil {
			spanErr = context.Cause(item.runCtx)
			d.cancelRequest(item.id, spanErr)
			return
		}
	}
}

func invoke(ctx context.Context, op Operation) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("dispatcher: operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// finish settles a request that ran to completion and advances its lane.
func (d *Dispatcher[K]) finish(item *workItem[K], value interface{}, err error, outcome Outcome) {
	d.mu.Lock()
	if item.settled {
		d.mu.Unlock()
		return
	}
	s := d.settleLocked(item, value, err, outcome)
	next := d.advanceLocked(item)
	active, queued := d.depthLocked()
	d.mu.Unlock()

	d.report([]settlement[K]{s}, active, queued)

	if next != nil {
		go d.run(next)
	}
}

func (d *Dispatcher[K]) settleLocked(item *workItem[K], value interface{}, err error, outcome Outcome) settlement[K] {
	item.settled = true
	delete(d.requests, item.id)
	if item.stopWatch != nil {
		item.stopWatch()
	}
	if item.abort != nil {
		item.abort(err)
	}
	item.future.settle(value, err)

	return settlement[K]{
		item:     item,
		outcome:  outcome,
		err:      err,
		attempts: item.attempts,
		duration: d.clock.Since(item.submittedAt),
	}
}

// advanceLocked removes a settled item from its lane and starts the next one when
// the item was in flight. It returns the item to launch, if any.
func (d *Dispatcher[K]) advanceLocked(item *workItem[K]) *workItem[K] {
	l := item.lane
	idx := -1
	for i, it := range l.items {
		if it == item {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	l.items = append(l.items[:idx], l.items[idx+1:]...)

	if len(l.items) == 0 {
		if d.lanes[l.key] == l {
			delete(d.lanes, l.key)
		}
		return nil
	}
	if idx != 0 {
		return nil
	}

	next := l.items[0]
	d.startLocked(next)
	return next
}

// drainLocked settles every item of l: the in-flight one aborted, the rest cancelled.
func (d *Dispatcher[K]) drainLocked(l *lane[K], cause error) []settlement[K] {
	settled := make([]settlement[K], 0, len(l.items))
	for _, item := range l.items {
		if item.started {
			settled = append(settled, d.settleLocked(item, nil, fmt.Errorf("%w: %w", ErrAborted, cause), OutcomeAborted))
		} else {
			settled = append(settled, d.settleLocked(item, nil, fmt.Errorf("%w: %w", ErrCancelled, cause), OutcomeCancelled))
		}
	}
	l.items = nil
	return settled
}

func (d *Dispatcher[K]) depthLocked() (active, queued int) {
	for _, l := range d.lanes {
		active++
		queued += len(l.items) - 1
	}
	return active, queued
}

// report publishes settlements. Never called with d.mu held.
func (d *Dispatcher[K]) report(settled []settlement[K], active, queued int) {
	for _, s := range settled {
		logger := tracing.LoggerFromContext(s.item.ctx, d.logger)
		switch s.outcome {
		case OutcomeSucceeded:
			logger.Debug().
				Int("attempts", s.attempts).
				Dur("duration", s.duration).
				Msg("Request succeeded")
		case OutcomeAborted, OutcomeCancelled:
			logger.Debug().
				Str("outcome", string(s.outcome)).
				Err(s.err).
				Msg("Request withdrawn")
		default:
			logger.Error().
				Str("outcome", string(s.outcome)).
				Int("attempts", s.attempts).
				Dur("duration", s.duration).
				Err(s.err).
				Msg("Request failed")
		}

		observability.RecordSettlement(string(s.outcome), s.duration)

		d.emit(Event[K]{
			Type:      EventSettled,
			Key:       s.item.key,
			RequestID: s.item.id,
			Attempt:   s.attempts,
			Outcome:   s.outcome,
			Duration:  s.duration,
			Err:       s.err,
		})
	}
	observability.SetDispatcherDepth(active, queued)
}

// CancelTab aborts the in-flight request of key and cancels everything queued
// behind it. The lane is gone when CancelTab returns. It reports how many
// requests were settled; unknown keys are a no-op.
func (d *Dispatcher[K]) CancelTab(key K) int {
	d.mu.Lock()
	l, ok := d.lanes[key]
	if !ok {
		d.mu.Unlock()
		return 0
	}
	delete(d.lanes, key)
	settled := d.drainLocked(l, errTabClosed)
	active, queued := d.depthLocked()
	d.mu.Unlock()

	d.logger.Info().
		Str("tab_id", fmt.Sprint(key)).
		Int("cancelled", len(settled)).
		Msg("Tab closed, lane cancelled")

	observability.RecordTabCancel()
	d.report(settled, active, queued)
	return len(settled)
}

// Cancel withdraws a single request. An in-flight request is aborted and its lane
// moves on; a queued one is cancelled. It returns the request's key and whether
// the request was pending.
func (d *Dispatcher[K]) Cancel(requestID string) (K, bool) {
	return d.cancelRequest(requestID, errWithdrawn)
}

func (d *Dispatcher[K]) cancelRequest(requestID string, cause error) (K, bool) {
	if cause == nil {
		cause = context.Canceled
	}

	d.mu.Lock()
	item, ok := d.requests[requestID]
	if !ok {
		d.mu.Unlock()
		var zero K
		return zero, false
	}

	var s settlement[K]
	if item.started {
		s = d.settleLocked(item, nil, fmt.Errorf("%w: %w", ErrAborted, cause), OutcomeAborted)
	} else {
		s = d.settleLocked(item, nil, fmt.Errorf("%w: %w", ErrCancelled, cause), OutcomeCancelled)
	}
	next := d.advanceLocked(item)
	active, queued := d.depthLocked()
	d.mu.Unlock()

	d.report([]settlement[K]{s}, active, queued)

	if next != nil {
		go d.run(next)
	}
	return item.key, true
}

// Status returns the current lane counts.
func (d *Dispatcher[K]) Status() Status[K] {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := Status[K]{ByTab: make(map[K]int)}
	for key, l := range d.lanes {
		status.Active++
		if waiting := len(l.items) - 1; waiting > 0 {
			status.Queued += waiting
			status.ByTab[key] = waiting
		}
	}
	return status
}

// Pending reports whether requestID has not settled yet.
func (d *Dispatcher[K]) Pending(requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.requests[requestID]
	return ok
}

// SetDefaultMaxRetries changes the limit for later submissions that do not set one.
func (d *Dispatcher[K]) SetDefaultMaxRetries(n int) {
	if n < 0 {
		return
	}
	d.mu.Lock()
	old := d.maxRetries
	d.maxRetries = n
	d.mu.Unlock()

	d.logger.Info().
		Int("oldMax", old).
		Int("newMax", n).
		Msg("Default max retries updated")
}

// MaxRetries returns the default retry limit.
func (d *Dispatcher[K]) MaxRetries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxRetries
}

// warnIfWaiting reports a request that is still queued after the threshold.
func (d *Dispatcher[K]) warnIfWaiting(item *workItem[K], after time.Duration, onWait func(time.Duration, int)) {
	defer d.wg.Done()

	timer := d.clock.NewTimer(after)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-item.future.Done():
		return
	}

	d.mu.Lock()
	if item.settled || item.started {
		d.mu.Unlock()
		return
	}
	position := -1
	for i, it := range item.lane.items {
		if it == item {
			position = i
			break
		}
	}
	wait := d.clock.Since(item.submittedAt)
	d.mu.Unlock()

	if position < 0 {
		return
	}

	logger := tracing.LoggerFromContext(item.ctx, d.logger)
	logger.Warn().
		Dur("wait", wait).
		Int("position", position).
		Msg("Request waiting longer than expected")

	if onWait != nil {
		onWait(wait, position)
	}
}

// Close aborts all in-flight requests, cancels queued ones, rejects later
// submissions and waits for running operations to return.
func (d *Dispatcher[K]) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return nil
	}
	d.closed = true

	var settled []settlement[K]
	for key, l := range d.lanes {
		settled = append(settled, d.drainLocked(l, errShutdown)...)
		delete(d.lanes, key)
	}
	d.mu.Unlock()

	d.report(settled, 0, 0)
	d.wg.Wait()
	d.closeEvents()
	return nil
}
