package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lightningnetwork/lnd/clock"
)

// ErrExhausted is matched by every ExhaustedError.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustedError is returned by Do when an operation did not succeed within
// the policy's limits. It carries the error of the last attempt.
type ExhaustedError struct {
	// Op names the operation that was retried.
	Op string

	// Attempts is the number of attempts made.
	Attempts int

	// Elapsed is the time spent, waits included.
	Elapsed time.Duration

	// Err is the error returned by the last attempt. It is nil only if
	// the context was done before the first attempt.
	Err error

	// Canceled is the context error if retrying stopped because the
	// context was done.
	Canceled error
}

// Error returns a human readable description of the failure.
func (e *ExhaustedError) Error() string {
	reason := fmt.Sprintf("%d attempts in %v", e.Attempts,
		e.Elapsed.Round(time.Millisecond))
	if e.Canceled != nil {
		reason = fmt.Sprintf("%v after %s", e.Canceled, reason)
	}

	return fmt.Sprintf("%s: %v (%s): %v", e.Op, ErrExhausted, reason,
		e.Err)
}

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Unwrap returns the last attempt's error and, if set, the context error.
func (e *ExhaustedError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Canceled != nil {
		errs = append(errs, e.Canceled)
	}

	return errs
}

// Permanent marks err as not worth retrying. Do returns it unwrapped right
// away.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the policy's limits
// are reached or ctx is done. In the last two cases an *ExhaustedError
// wrapping the last attempt's error is returned.
func Do[T any](ctx context.Context, policy *Policy, name string,
	op func(context.Context) (T, error)) (T, error) {

	var (
		clk       = policy.clock()
		start     = clk.Now()
		attempts  int
		lastErr   error
		permanent bool
	)

	operation := func() (T, error) {
		attempts++

		res, err := op(ctx)
		if err != nil {
			lastErr = err

			var permErr *backoff.PermanentError
			permanent = errors.As(err, &permErr)
		}

		return res, err
	}

	notify := func(err error, next time.Duration) {
		log.Debugf("%s attempt %d failed, retrying in %v: %v", name,
			attempts, next.Round(time.Millisecond), err)
	}

	b := backoff.WithContext(policy.newBackOff(clk), ctx)
	res, err := backoff.RetryNotifyWithTimerAndData(
		operation, b, notify, &clockTimer{clock: clk},
	)
	switch {
	case err == nil:
		if attempts > 1 {
			log.Debugf("%s succeeded after %d attempts", name,
				attempts)
		}

		return res, nil

	case permanent && ctx.Err() == nil:
		return res, err
	}

	exhausted := &ExhaustedError{
		Op:       name,
		Attempts: attempts,
		Elapsed:  clk.Now().Sub(start),
		Err:      lastErr,
		Canceled: ctx.Err(),
	}
	log.Debugf("%v", exhausted)

	var zero T
	return zero, exhausted
}

// clockTimer implements backoff.Timer on top of a clock.Clock so waits follow
// the policy's clock.
type clockTimer struct {
	clock clock.Clock
	c     <-chan time.Time
}

// Start arms the timer to fire after duration.
func (t *clockTimer) Start(duration time.Duration) {
	t.c = t.clock.TickAfter(duration)
}

// Stop is a no-op, the clock's tick channel is left to be collected.
func (t *clockTimer) Stop() {}

// C returns the channel that fires once the armed duration has passed.
func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
