package dispatcher

import "time"

// Event types emitted by the dispatcher.
const (
	EventEnqueued = "enqueued"
	EventStarted  = "started"
	EventRetrying = "retrying"
	EventSettled  = "settled"
)

// Outcome describes how a request settled.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCancelled Outcome = "cancelled"
)

// Event describes a change in a request's lifecycle.
type Event[K comparable] struct {
	Type      string
	Key       K
	RequestID string
	// Position is the number of requests ahead in the lane at enqueue time.
	Position int
	// Attempt is the 1-indexed attempt that started, failed, or settled the request.
	Attempt  int
	Delay    time.Duration
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// EventHandler is a function that handles dispatcher events
type EventHandler[K comparable] func(event Event[K])

// On registers an event handler for a specific event type
func (d *Dispatcher[K]) On(eventType string, handler EventHandler[K]) {
	d.eventMu.Lock()
	defer d.eventMu.Unlock()

	d.eventHandlers[eventType] = append(d.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (d *Dispatcher[K]) Off(eventType string) {
	d.eventMu.Lock()
	defer d.eventMu.Unlock()

	delete(d.eventHandlers, eventType)
}

// emit queues event for delivery. Never called with d.mu held.
func (d *Dispatcher[K]) emit(event Event[K]) {
	d.queueMu.Lock()
	if d.queueClosed {
		d.queueMu.Unlock()
		return
	}
	d.queue = append(d.queue, event)
	d.queueMu.Unlock()

	select {
	case d.queueWake <- struct{}{}:
	default:
	}
}

// deliverEvents runs handlers on a single goroutine in emit order, so a slow
// handler delays later events but never a lane.
func (d *Dispatcher[K]) deliverEvents() {
	defer close(d.queueDone)

	for {
		d.queueMu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.queueClosed
		d.queueMu.Unlock()

		for _, event := range batch {
			d.eventMu.RLock()
			handlers := d.eventHandlers[event.Type]
			d.eventMu.RUnlock()

			for _, handler := range handlers {
				handler(event)
			}
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-d.queueWake
		}
	}
}

// closeEvents stops accepting events and waits until the queued ones are delivered.
func (d *Dispatcher[K]) closeEvents() {
	d.queueMu.Lock()
	d.queueClosed = true
	d.queueMu.Unlock()

	select {
	case d.queueWake <- struct{}{}:
	default:
	}
	<-d.queueDone
}
