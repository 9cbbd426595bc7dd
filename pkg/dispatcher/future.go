package dispatcher

import "context"

// Operation is the unit of work run on a lane. ctx is cancelled when the request is
// aborted; context.Cause(ctx) is then ErrAborted or the caller's cause.
type Operation func(ctx context.Context) (interface{}, error)

// Future is the pending result of a submitted request.
type Future struct {
	id    string
	done  chan struct{}
	value interface{}
	err   error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// settle must be called exactly once.
func (f *Future) settle(value interface{}, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// ID returns the request ID.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the request has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the request settles.
func (f *Future) Result() (interface{}, error) {
	<-f.done
	return f.value, f.err
}

// Wait blocks until the request settles or ctx is done. Giving up on the wait
// does not cancel the request.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
