// Package dispatcher schedules LLM requests on per-tab lanes.
//
// Invariants:
// - At most one request per key is in flight (executing or waiting on backoff).
// - Requests of the same key start in submission order; distinct keys run in parallel.
// - Rate-limit and server errors are retried with exponential backoff; everything else settles at once.
// - CancelTab aborts the in-flight request of a key and cancels everything queued behind it.
//
// Usage:
//
//	d := dispatcher.New[int]()
//	defer d.Close()
//	value, err := d.Enqueue(ctx, tabID, func(ctx context.Context) (interface{}, error) {
//		return callProvider(ctx)
//	}, dispatcher.WithMaxRetries(3))
package dispatcher
