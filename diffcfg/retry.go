package diffcfg

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/diffd/retry"
)

// Retry configures the backoff applied to every remote call.
//
//nolint:ll
type Retry struct {
	InitialInterval time.Duration `long:"initialinterval" description:"Delay before the first retry of a failed remote call."`
	Multiplier      float64       `long:"multiplier" description:"Factor applied to the delay after every retry."`
	MaxInterval     time.Duration `long:"maxinterval" description:"Upper bound of the delay between two retries."`
	Attempts        int           `long:"attempts" description:"Maximum number of attempts per remote call, 0 to only bound by maxelapsed."`
	MaxElapsed      time.Duration `long:"maxelapsed" description:"Maximum time spent retrying a remote call, 0 to only bound by attempts."`
}

// DefaultRetryConfig returns a Retry config matching retry.DefaultPolicy.
func DefaultRetryConfig() *Retry {
	policy := retry.DefaultPolicy()

	return &Retry{
		InitialInterval: policy.InitialInterval,
		Multiplier:      policy.Multiplier,
		MaxInterval:     policy.MaxInterval,
		Attempts:        policy.MaxAttempts,
		MaxElapsed:      policy.MaxElapsedTime,
	}
}

// Policy converts the config into a retry policy.
func (r *Retry) Policy() *retry.Policy {
	policy := retry.DefaultPolicy()
	policy.InitialInterval = r.InitialInterval
	policy.Multiplier = r.Multiplier
	policy.MaxInterval = r.MaxInterval
	policy.MaxAttempts = r.Attempts
	policy.MaxElapsedTime = r.MaxElapsed

	return policy
}

// Validate checks the resulting policy has a finite bound and a growing
// delay.
//
// NOTE: Part of the Validator interface.
func (r *Retry) Validate() error {
	if r.Attempts < 0 {
		return fmt.Errorf("retry: attempts must not be negative, got %d",
			r.Attempts)
	}

	if err := r.Policy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	return nil
}
