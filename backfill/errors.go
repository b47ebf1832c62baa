package backfill

import (
	"errors"
	"fmt"
)

// ErrBatchFetchFailed is matched by every BatchError.
var ErrBatchFetchFailed = errors.New("batch fetch failed")

// BatchError reports the period whose header could not be fetched. Periods
// below it that were already delivered stay delivered.
type BatchError struct {
	// Index is the period index that failed.
	Index uint32

	// Height is the block height of that period.
	Height uint32

	// Err is the underlying error, usually a *retry.ExhaustedError.
	Err error
}

// Error returns a human readable description of the failure.
func (e *BatchError) Error() string {
	return fmt.Sprintf("%v at period %d (height %d): %v",
		ErrBatchFetchFailed, e.Index, e.Height, e.Err)
}

// Is reports whether target is ErrBatchFetchFailed.
func (e *BatchError) Is(target error) bool {
	return target == ErrBatchFetchFailed
}

// Unwrap returns the underlying error.
func (e *BatchError) Unwrap() error {
	return e.Err
}
