package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher[int], *testclock.FakeClock) {
	t.Helper()
	fc := testclock.NewFakeClock(time.Now())
	opts = append([]Option{WithClock(fc), WithLogger(zerolog.Nop())}, opts...)
	d := New[int](opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d, fc
}

// blockingOp reports its name on started and returns once released or aborted.
func blockingOp(name string, started chan<- string, release <-chan struct{}) Operation {
	return func(ctx context.Context) (interface{}, error) {
		started <- name
		select {
		case <-release:
			return name, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func assertNothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitForTimer(t *testing.T, fc *testclock.FakeClock) {
	t.Helper()
	require.Eventually(t, fc.HasWaiters, 2*time.Second, time.Millisecond)
}

// lockedBuffer is a log sink shared by dispatcher goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func emptyStatus() Status[int] {
	return Status[int]{ByTab: map[int]int{}}
}

func TestDispatcher_SameTabRunsOneAtATime(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	started := make(chan string, 2)
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})

	a := d.Submit(ctx, 1, blockingOp("A", started, releaseA))
	b := d.Submit(ctx, 1, blockingOp("B", started, releaseB))

	assert.Equal(t, "A", receive(t, started))
	assertNothing(t, started)
	assert.Equal(t, Status[int]{Active: 1, Queued: 1, ByTab: map[int]int{1: 1}}, d.Status())

	close(releaseA)
	value, err := a.Result()
	require.NoError(t, err)
	assert.Equal(t, "A", value)

	assert.Equal(t, "B", receive(t, started))
	assert.Equal(t, Status[int]{Active: 1, ByTab: map[int]int{}}, d.Status())

	close(releaseB)
	value, err = b.Result()
	require.NoError(t, err)
	assert.Equal(t, "B", value)
	assert.Equal(t, emptyStatus(), d.Status())
}

func TestDispatcher_TransientFailureRetriesWithBackoff(t *testing.T) {
	d, fc := newTestDispatcher(t)

	var calls atomic.Int32
	attempts := make(chan int32, 5)
	op := func(ctx context.Context) (interface{}, error) {
		n := calls.Add(1)
		attempts <- n
		if n < 3 {
			return nil, errors.New("HTTP 503 Service Unavailable")
		}
		return "ok", nil
	}

	f := d.Submit(context.Background(), 1, op, WithMaxRetries(3))
	assert.Equal(t, int32(1), receive(t, attempts))

	waitForTimer(t, fc)
	fc.Step(999 * time.Millisecond)
	assertNothing(t, attempts)
	fc.Step(time.Millisecond)
	assert.Equal(t, int32(2), receive(t, attempts))

	waitForTimer(t, fc)
	fc.Step(time.Second)
	assertNothing(t, attempts)
	fc.Step(time.Second)
	assert.Equal(t, int32(3), receive(t, attempts))

	value, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcher_RateLimitedRequestBacksOffThenSucceeds(t *testing.T) {
	d, fc := newTestDispatcher(t)
	start := fc.Now()

	var calls atomic.Int32
	invoked := make(chan time.Duration, 5)
	op := func(ctx context.Context) (interface{}, error) {
		n := calls.Add(1)
		invoked <- fc.Since(start)
		if n < 3 {
			return nil, errors.New("429 rate limit exceeded")
		}
		return "success", nil
	}

	f := d.Submit(context.Background(), 1, op, WithMaxRetries(3))
	assert.Equal(t, time.Duration(0), receive(t, invoked))
	assert.Equal(t, int32(1), calls.Load())

	waitForTimer(t, fc)
	fc.Step(time.Second)
	assert.Equal(t, time.Second, receive(t, invoked))
	assert.Equal(t, int32(2), calls.Load())

	waitForTimer(t, fc)
	fc.Step(2 * time.Second)
	assert.Equal(t, 3*time.Second, receive(t, invoked))
	assert.Equal(t, int32(3), calls.Load())

	value, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "success", value)
	assertNothing(t, invoked)
}

func TestDispatcher_StatusCountsActiveAndQueuedPerTab(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	started := make(chan string, 3)
	release := make(chan struct{})

	futures := []*Future{
		d.Submit(ctx, 1, blockingOp("1a", started, release)),
		d.Submit(ctx, 1, blockingOp("1b", started, release)),
		d.Submit(ctx, 2, blockingOp("2a", started, release)),
	}
	got := []string{receive(t, started), receive(t, started)}
	assert.ElementsMatch(t, []string{"1a", "2a"}, got)

	assert.Equal(t, Status[int]{Active: 2, Queued: 1, ByTab: map[int]int{1: 1}}, d.Status())

	close(release)
	for _, f := range futures {
		_, err := f.Result()
		require.NoError(t, err)
	}
	assert.Equal(t, emptyStatus(), d.Status())
}

func TestDispatcher_PermanentFailureIsNotRetried(t *testing.T) {
	d, fc := newTestDispatcher(t)

	permanent := errors.New("401 Unauthorized")
	var calls atomic.Int32
	op := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, permanent
	}

	_, err := d.Enqueue(context.Background(), 1, op, WithMaxRetries(3))

	assert.Same(t, permanent, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, fc.HasWaiters())
	assert.Equal(t, emptyStatus(), d.Status())
}

func TestDispatcher_RetriesExhaustedReturnsLastError(t *testing.T) {
	d, fc := newTestDispatcher(t)

	var outcome atomic.Value
	d.On(EventSettled, func(e Event[int]) { outcome.Store(e.Outcome) })

	var calls atomic.Int32
	attempts := make(chan int32, 5)
	op := func(ctx context.Context) (interface{}, error) {
		n := calls.Add(1)
		attempts <- n
		return nil, fmt.Errorf("attempt %d: 503", n)
	}

	f := d.Submit(context.Background(), 1, op, WithMaxRetries(2))
	receive(t, attempts)

	waitForTimer(t, fc)
	fc.Step(time.Second)
	receive(t, attempts)

	waitForTimer(t, fc)
	fc.Step(2 * time.Second)
	receive(t, attempts)

	_, err := f.Result()
	require.Error(t, err)
	assert.Equal(t, "attempt 3: 503", err.Error())
	assert.Equal(t, int32(3), calls.Load())
	assert.False(t, IsCancellation(err))
	require.Eventually(t, func() bool { return outcome.Load() == OutcomeExhausted }, time.Second, time.Millisecond)
}

func TestDispatcher_ZeroRetriesMeansOneAttempt(t *testing.T) {
	d, fc := newTestDispatcher(t)

	var calls atomic.Int32
	op := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New("429 Too Many Requests")
	}

	_, err := d.Enqueue(context.Background(), 1, op, WithMaxRetries(0))

	assert.EqualError(t, err, "429 Too Many Requests")
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, fc.HasWaiters())
}

func TestDispatcher_DefaultMaxRetries(t *testing.T) {
	d, fc := newTestDispatcher(t)
	assert.Equal(t, DefaultMaxRetries, d.MaxRetries())

	attempts := make(chan struct{}, 10)
	op := func(ctx context.Context) (interface{}, error) {
		attempts <- struct{}{}
		return nil, errors.New("500 Internal Server Error")
	}

	f := d.Submit(context.Background(), 1, op)
	receive(t, attempts)
	for _, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		waitForTimer(t, fc)
		fc.Step(delay)
		receive(t, attempts)
	}

	_, err := f.Result()
	assert.EqualError(t, err, "500 Internal Server Error")
	assertNothing(t, attempts)
}

func TestDispatcher_CancelTabAbortsActiveAndCancelsQueued(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	started := make(chan string, 2)
	release := make(chan struct{})
	abortCause := make(chan error, 1)

	a := d.Submit(ctx, 1, func(ctx context.Context) (interface{}, error) {
		started <- "A"
		<-ctx.Done()
		abortCause <- context.Cause(ctx)
		return nil, ctx.Err()
	})
	b := d.Submit(ctx, 1, blockingOp("B", started, release))

	assert.Equal(t, "A", receive(t, started))
	assert.Equal(t, 2, d.CancelTab(1))

	_, errA := a.Result()
	require.Error(t, errA)
	assert.ErrorIs(t, errA, ErrAborted)
	assert.Contains(t, errA.Error(), "abort")
	assert.NotContains(t, errA.Error(), "cancelled")

	_, errB := b.Result()
	require.Error(t, errB)
	assert.ErrorIs(t, errB, ErrCancelled)
	assert.Contains(t, errB.Error(), "cancelled")
	assert.NotContains(t, errB.Error(), "abort")

	assert.ErrorIs(t, receive(t, abortCause), ErrAborted)
	assertNothing(t, started)
	assert.Equal(t, emptyStatus(), d.Status())
}

func TestDispatcher_CancelTabDuringBackoffStopsRetries(t *testing.T) {
	d, fc := newTestDispatcher(t)

	attempts := make(chan struct{}, 5)
	op := func(ctx context.Context) (interface{}, error) {
		attempts <- struct{}{}
		return nil, errors.New("503")
	}

	f := d.Submit(context.Background(), 1, op, WithMaxRetries(3))
	receive(t, attempts)
	waitForTimer(t, fc)

	d.CancelTab(1)

	_, err := f.Result()
	assert.ErrorIs(t, err, ErrAborted)

	fc.Step(time.Minute)
	assertNothing(t, attempts)
}

func TestDispatcher_DifferentTabsRunInParallel(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	started := make(chan string, 2)
	release := make(chan struct{})

	a := d.Submit(ctx, 1, blockingOp("A", started, release))
	b := d.Submit(ctx, 2, blockingOp("B", started, release))

	got := []string{receive(t, started), receive(t, started)}
	assert.ElementsMatch(t, []string{"A", "B"}, got)
	assert.Equal(t, Status[int]{Active: 2, ByTab: map[int]int{}}, d.Status())

	close(release)
	_, errA := a.Result()
	_, errB := b.Result()
	assert.NoError(t, errA)
	assert.NoError(t, errB)
}

func TestDispatcher_CancelUnknownTabIsNoop(t *testing.T) {
	d, _ := newTestDispatcher(t)

	assert.Equal(t, 0, d.CancelTab(99))
	assert.Equal(t, emptyStatus(), d.Status())

	value, err := d.Enqueue(context.Background(), 99, func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestDispatcher_FreshLaneAfterCancelTab(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	started := make(chan string, 2)
	releaseA := make(chan struct{})
	defer close(releaseA)

	// A ignores cancellation and keeps running after the tab closes.
	a := d.Submit(ctx, 1, func(ctx context.Context) (interface{}, error) {
		started <- "A"
		<-releaseA
		return "late", nil
	})
	assert.Equal(t, "A", receive(t, started))

	d.CancelTab(1)
	_, err := a.Result()
	assert.ErrorIs(t, err, ErrAborted)

	releaseB := make(chan struct{})
	b := d.Submit(ctx, 1, blockingOp("B", started, releaseB))
	assert.Equal(t, "B", receive(t, started))

	close(releaseB)
	value, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, "B", value)
}

func TestDispatcher_CancelQueuedRequest(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	started := make(chan string, 3)
	release := make(chan struct{})

	a := d.Submit(ctx, 1, blockingOp("A", started, release))
	b := d.Submit(ctx, 1, blockingOp("B", started, release))
	c := d.Submit(ctx, 1, blockingOp("C", started, release))
	receive(t, started)

	tab, found := d.Cancel(b.ID())
	assert.True(t, found)
	assert.Equal(t, 1, tab)
	_, found = d.Cancel(b.ID())
	assert.False(t, found)
	assert.False(t, d.Pending(b.ID()))

	_, err := b.Result()
	assert.ErrorIs(t, err, ErrCancelled)

	close(release)
	_, err = a.Result()
	require.NoError(t, err)
	assert.Equal(t, "C", receive(t, started))
	_, err = c.Result()
	require.NoError(t, err)
	assertNothing(t, started)
}

func TestDispatcher_CancelActiveRequestAdvancesLane(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	started := make(chan string, 2)
	release := make(chan struct{})

	a := d.Submit(ctx, 1, blockingOp("A", started, release))
	b := d.Submit(ctx, 1, blockingOp("B", started, release))
	receive(t, started)

	_, found := d.Cancel(a.ID())
	assert.True(t, found)

	_, err := a.Result()
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, "B", receive(t, started))

	close(release)
	_, err = b.Result()
	assert.NoError(t, err)
}

func TestDispatcher_CallerContextCancelsRequest(t *testing.T) {
	d, _ := newTestDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan string, 1)

	f := d.Submit(ctx, 1, blockingOp("A", started, nil))
	receive(t, started)
	cancel()

	_, err := f.Result()
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	require.Eventually(t, func() bool { return d.Status().Active == 0 }, time.Second, time.Millisecond)
}

func TestDispatcher_SubmitWithDoneContext(t *testing.T) {
	d, _ := newTestDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := d.Enqueue(ctx, 1, func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, called)
	assert.Equal(t, emptyStatus(), d.Status())
}

func TestDispatcher_OperationPanicBecomesError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Enqueue(context.Background(), 1, func(ctx context.Context) (interface{}, error) {
		panic("boom")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked: boom")
	assert.Equal(t, emptyStatus(), d.Status())
}

func TestDispatcher_NilOperation(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Enqueue(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrNilOperation)
}

func TestDispatcher_CloseRejectsEverything(t *testing.T) {
	fc := testclock.NewFakeClock(time.Now())
	d := New[int](WithClock(fc), WithLogger(zerolog.Nop()))
	ctx := context.Background()

	started := make(chan string, 2)
	a := d.Submit(ctx, 1, blockingOp("A", started, nil))
	b := d.Submit(ctx, 1, blockingOp("B", started, nil))
	receive(t, started)

	require.NoError(t, d.Close())

	_, errA := a.Result()
	_, errB := b.Result()
	assert.ErrorIs(t, errA, ErrAborted)
	assert.ErrorIs(t, errB, ErrCancelled)

	_, err := d.Enqueue(ctx, 1, func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close())
}

func TestDispatcher_EventsFollowLifecycle(t *testing.T) {
	d, fc := newTestDispatcher(t)

	var mu sync.Mutex
	var seen []string
	record := func(e Event[int]) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fmt.Sprintf("%s:%d:%s", e.Type, e.Attempt, e.Outcome))
	}
	for _, typ := range []string{EventEnqueued, EventStarted, EventRetrying, EventSettled} {
		d.On(typ, record)
	}

	attempts := make(chan struct{}, 2)
	var calls atomic.Int32
	f := d.Submit(context.Background(), 7, func(ctx context.Context) (interface{}, error) {
		attempts <- struct{}{}
		if calls.Add(1) == 1 {
			return nil, errors.New("429")
		}
		return "done", nil
	})
	receive(t, attempts)
	waitForTimer(t, fc)
	fc.Step(time.Second)
	receive(t, attempts)
	_, err := f.Result()
	require.NoError(t, err)

	want := []string{
		"enqueued:0:",
		"started:1:",
		"retrying:1:",
		"started:2:",
		"settled:2:succeeded",
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, want, seen)
	mu.Unlock()

	d.Off(EventSettled)
	_, _ = d.Enqueue(context.Background(), 7, func(ctx context.Context) (interface{}, error) { return nil, nil })
	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, seen[len(want):], "settled:1:succeeded")
}

func TestDispatcher_SlowSettledHandlerDoesNotHoldLane(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	handlerEntered := make(chan struct{}, 1)
	handlerRelease := make(chan struct{})
	t.Cleanup(func() { close(handlerRelease) })
	d.On(EventSettled, func(e Event[int]) {
		select {
		case handlerEntered <- struct{}{}:
		default:
		}
		<-handlerRelease
	})

	started := make(chan string, 2)
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})

	a := d.Submit(ctx, 1, blockingOp("A", started, releaseA))
	b := d.Submit(ctx, 1, blockingOp("B", started, releaseB))
	assert.Equal(t, "A", receive(t, started))

	close(releaseA)
	_, err := a.Result()
	require.NoError(t, err)
	receive(t, handlerEntered)

	// The settled handler for A is still blocked.
	assert.Equal(t, "B", receive(t, started))

	close(releaseB)
	_, err = b.Result()
	require.NoError(t, err)
}

func TestDispatcher_SlowRetryingHandlerDoesNotDelayBackoff(t *testing.T) {
	d, fc := newTestDispatcher(t)

	handlerEntered := make(chan struct{}, 1)
	handlerRelease := make(chan struct{})
	t.Cleanup(func() { close(handlerRelease) })
	d.On(EventRetrying, func(e Event[int]) {
		handlerEntered <- struct{}{}
		<-handlerRelease
	})

	var calls atomic.Int32
	attempts := make(chan int32, 2)
	f := d.Submit(context.Background(), 1, func(ctx context.Context) (interface{}, error) {
		n := calls.Add(1)
		attempts <- n
		if n == 1 {
			return nil, errors.New("503")
		}
		return "ok", nil
	}, WithMaxRetries(1))

	assert.Equal(t, int32(1), receive(t, attempts))
	receive(t, handlerEntered)

	waitForTimer(t, fc)
	fc.Step(time.Second)
	assert.Equal(t, int32(2), receive(t, attempts))

	value, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
}

func TestDispatcher_WarnAfterReportsLongWait(t *testing.T) {
	logs := &lockedBuffer{}
	d, fc := newTestDispatcher(t, WithLogger(zerolog.New(logs).Level(zerolog.WarnLevel)))
	ctx := context.Background()

	started := make(chan string, 2)
	release := make(chan struct{})

	type wait struct {
		d        time.Duration
		position int
	}
	waits := make(chan wait, 1)

	a := d.Submit(ctx, 1, blockingOp("A", started, release))
	receive(t, started)
	b := d.Submit(ctx, 1, blockingOp("B", started, release), WithWarnAfter(5*time.Second, func(d time.Duration, position int) {
		waits <- wait{d, position}
	}))

	waitForTimer(t, fc)
	fc.Step(5 * time.Second)

	got := receive(t, waits)
	assert.Equal(t, 5*time.Second, got.d)
	assert.Equal(t, 1, got.position)
	assert.Contains(t, logs.String(), "Request waiting longer than expected")
	assert.Contains(t, logs.String(), `"position":1`)

	close(release)
	_, _ = a.Result()
	_, _ = b.Result()
}

func TestDispatcher_SetDefaultMaxRetries(t *testing.T) {
	d, fc := newTestDispatcher(t, WithDefaultMaxRetries(5))
	assert.Equal(t, 5, d.MaxRetries())

	d.SetDefaultMaxRetries(0)
	d.SetDefaultMaxRetries(-1)
	assert.Equal(t, 0, d.MaxRetries())

	_, err := d.Enqueue(context.Background(), 1, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("503")
	})
	assert.EqualError(t, err, "503")
	assert.False(t, fc.HasWaiters())
}

func TestDispatcher_PerTabOrderUnderLoad(t *testing.T) {
	d := New[string](WithLogger(zerolog.Nop()))
	defer d.Close()

	const perTab = 20
	tabs := []string{"a", "b", "c"}

	var mu sync.Mutex
	order := make(map[string][]int)
	inFlight := make(map[string]*atomic.Int32)
	for _, tab := range tabs {
		inFlight[tab] = &atomic.Int32{}
	}

	var futures []*Future
	for i := 0; i < perTab; i++ {
		for _, tab := range tabs {
			tab, i := tab, i
			futures = append(futures, d.Submit(context.Background(), tab, func(ctx context.Context) (interface{}, error) {
				if n := inFlight[tab].Add(1); n != 1 {
					return nil, fmt.Errorf("tab %s had %d requests in flight", tab, n)
				}
				defer inFlight[tab].Add(-1)
				time.Sleep(time.Millisecond)
				mu.Lock()
				order[tab] = append(order[tab], i)
				mu.Unlock()
				return nil, nil
			}))
		}
	}

	for _, f := range futures {
		_, err := f.Result()
		require.NoError(t, err)
	}

	for _, tab := range tabs {
		require.Len(t, order[tab], perTab)
		for i, got := range order[tab] {
			assert.Equal(t, i, got, "tab %s", tab)
		}
	}
	assert.Equal(t, Status[string]{ByTab: map[string]int{}}, d.Status())
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := newFuture("id")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.settle("v", nil)
	value, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", value)
	assert.Equal(t, "id", f.ID())
}
