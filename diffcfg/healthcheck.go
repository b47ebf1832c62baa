package diffcfg

import (
	"errors"
	"fmt"
	"time"
)

var (
	// MinHealthCheckInterval is the minimum interval we allow between
	// health checks.
	MinHealthCheckInterval = time.Second

	// MinHealthCheckTimeout is the minimum timeout we allow for health
	// check calls.
	MinHealthCheckTimeout = time.Second

	// MinHealthCheckBackoff is the minimum back off we allow between
	// health check retries.
	MinHealthCheckBackoff = time.Second
)

// HealthCheckConfig contains the configuration for the different health
// checks the daemon runs.
//
//nolint:ll
type HealthCheckConfig struct {
	Esplora *CheckConfig `group:"esploracheck" namespace:"esplora"`
}

// Validate checks the values configured for our health checks.
//
// NOTE: Part of the Validator interface.
func (h *HealthCheckConfig) Validate() error {
	if err := h.Esplora.validate("esplora"); err != nil {
		return err
	}

	return nil
}

// CheckConfig configures a single health check.
//
//nolint:ll
type CheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often to run a health check."`

	Attempts int `long:"attempts" description:"The number of calls we will make for the check before failing. Set this value to 0 to disable a check."`

	Timeout time.Duration `long:"timeout" description:"The amount of time we allow the health check to take before failing due to timeout."`

	Backoff time.Duration `long:"backoff" description:"The amount of time to back-off between failed health checks."`
}

// DefaultHealthCheckConfig returns the default health check settings.
func DefaultHealthCheckConfig() *HealthCheckConfig {
	return &HealthCheckConfig{
		Esplora: &CheckConfig{
			Interval: time.Minute,
			Attempts: 3,
			Timeout:  30 * time.Second,
			Backoff:  30 * time.Second,
		},
	}
}

// validate checks the values in a health check config entry if it is enabled.
func (c *CheckConfig) validate(name string) error {
	if c.Attempts == 0 {
		return nil
	}

	if c.Attempts < 0 {
		return fmt.Errorf("%v health check attempts must not be "+
			"negative", name)
	}

	if c.Backoff < MinHealthCheckBackoff {
		return fmt.Errorf("%v health check backoff must be at least "+
			"%v", name, MinHealthCheckBackoff)
	}

	if c.Timeout < MinHealthCheckTimeout {
		return fmt.Errorf("%v health check timeout must be at least "+
			"%v", name, MinHealthCheckTimeout)
	}

	if c.Interval < MinHealthCheckInterval {
		return errors.New(name + " health check interval must be " +
			"at least " + MinHealthCheckInterval.String())
	}

	return nil
}
