package esplora

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by a RemoteError when the API answers 404, e.g. for
// a height above its tip.
var ErrNotFound = errors.New("not found")

// RemoteError is returned when a request could not be completed: the
// transport failed, or the API answered with a non-2xx status.
type RemoteError struct {
	// Path is the API path that was requested.
	Path string

	// StatusCode is the HTTP status of the response, zero if none was
	// received.
	StatusCode int

	Err error
}

// Error returns a human readable description of the failure.
func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("esplora request %s failed with status %d: "+
			"%v", e.Path, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("esplora request %s failed: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a response was received but its payload is
// malformed: not an integer, not a hash, bad hex or a bad header layout.
type DecodeError struct {
	// Path is the API path whose response failed to decode.
	Path string

	Err error
}

// Error returns a human readable description of the failure.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("esplora response %s malformed: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
