package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultInitialInterval is the delay before the first retry.
	DefaultInitialInterval = 100 * time.Millisecond

	// DefaultMultiplier is the factor the delay grows by after every
	// failed attempt.
	DefaultMultiplier = 2.0

	// DefaultMaxInterval caps the delay between two attempts.
	DefaultMaxInterval = 30 * time.Second

	// DefaultRandomizationFactor spreads retries of concurrent callers.
	DefaultRandomizationFactor = 0.5

	// DefaultMaxAttempts is the number of attempts, including the first
	// one, after which an operation is given up.
	DefaultMaxAttempts = 4

	// DefaultMaxElapsedTime bounds the total time spent on one operation,
	// waits included.
	DefaultMaxElapsedTime = 2 * time.Minute
)

// ErrUnbounded is returned by Validate for a policy that could retry forever.
var ErrUnbounded = errors.New("retry policy needs max attempts or max " +
	"elapsed time")

// Policy describes an exponential backoff schedule and the limits after which
// an operation is given up.
type Policy struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// Multiplier is applied to the delay after every retry. Must be at
	// least 1.
	Multiplier float64

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration

	// RandomizationFactor jitters every delay by up to this fraction in
	// both directions. Zero disables jitter.
	RandomizationFactor float64

	// MaxAttempts is the total number of attempts. Zero means no limit on
	// attempts, in which case MaxElapsedTime must be set.
	MaxAttempts int

	// MaxElapsedTime is the time after which no new attempt is started.
	// Zero means no limit on time, in which case MaxAttempts must be set.
	MaxElapsedTime time.Duration

	// Clock is used to measure elapsed time and to wait between
	// attempts. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultPolicy returns the policy used for all remote calls unless
// configured otherwise.
func DefaultPolicy() *Policy {
	return &Policy{
		InitialInterval:     DefaultInitialInterval,
		Multiplier:          DefaultMultiplier,
		MaxInterval:         DefaultMaxInterval,
		RandomizationFactor: DefaultRandomizationFactor,
		MaxAttempts:         DefaultMaxAttempts,
		MaxElapsedTime:      DefaultMaxElapsedTime,
	}
}

// Validate checks that the policy is well formed and bounded.
func (p *Policy) Validate() error {
	switch {
	case p.MaxAttempts <= 0 && p.MaxElapsedTime <= 0:
		return ErrUnbounded

	case p.MaxAttempts < 0:
		return fmt.Errorf("max attempts must be non-negative, got %d",
			p.MaxAttempts)

	case p.MaxElapsedTime < 0:
		return fmt.Errorf("max elapsed time must be non-negative, "+
			"got %v", p.MaxElapsedTime)

	case p.InitialInterval <= 0:
		return fmt.Errorf("initial interval must be positive, got %v",
			p.InitialInterval)

	case p.Multiplier < 1:
		return fmt.Errorf("multiplier must be at least 1, got %v",
			p.Multiplier)

	case p.MaxInterval < p.InitialInterval:
		return fmt.Errorf("max interval %v below initial interval %v",
			p.MaxInterval, p.InitialInterval)

	case p.RandomizationFactor < 0 || p.RandomizationFactor >= 1:
		return fmt.Errorf("randomization factor must be in [0, 1), "+
			"got %v", p.RandomizationFactor)
	}

	return nil
}

// clock returns the configured clock or the wall clock.
func (p *Policy) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}

	return clock.NewDefaultClock()
}

// newBackOff builds a fresh backoff schedule for one operation.
func (p *Policy) newBackOff(clk clock.Clock) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.Multiplier = p.Multiplier
	exp.MaxInterval = p.MaxInterval
	exp.RandomizationFactor = p.RandomizationFactor
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Clock = clk
	exp.Reset()

	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
	}

	return exp
}
