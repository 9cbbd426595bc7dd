package provider

import "fmt"

// Error is a failed provider call. It carries the HTTP status when the vendor
// returned one, so callers can tell rate limiting and outages from bad requests.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the vendor's HTTP status, or 0 when the call never got one.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

func newError(provider string, status int, err error) *Error {
	return &Error{Provider: provider, StatusCode: status, Err: err}
}
