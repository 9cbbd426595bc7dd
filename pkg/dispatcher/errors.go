package dispatcher

import "errors"

var (
	// ErrAborted is the cause of a request that was stopped while it was in flight
	// (executing or waiting to retry).
	ErrAborted = errors.New("dispatcher: request aborted")

	// ErrCancelled is the cause of a request that was withdrawn before it ever started.
	ErrCancelled = errors.New("dispatcher: request cancelled")

	// ErrClosed is returned for submissions made after Close.
	ErrClosed = errors.New("dispatcher: closed")

	// ErrNilOperation is returned when Submit is called without an operation.
	ErrNilOperation = errors.New("dispatcher: nil operation")
)

// IsCancellation reports whether err settled a request because it was aborted or cancelled.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, ErrCancelled)
}
