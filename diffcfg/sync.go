package diffcfg

import (
	"fmt"
	"time"
)

const (
	// DefaultSyncInterval is the default delay between the end of one
	// sync cycle and the start of the next.
	DefaultSyncInterval = 600 * time.Second

	// MinSyncInterval is the smallest accepted sync interval.
	MinSyncInterval = time.Second
)

// Sync holds the configuration of the sync loop.
//
//nolint:ll
type Sync struct {
	Interval time.Duration `long:"interval" description:"Delay between the end of a sync cycle and the start of the next."`
}

// DefaultSyncConfig returns a Sync config with default values.
func DefaultSyncConfig() *Sync {
	return &Sync{
		Interval: DefaultSyncInterval,
	}
}

// Validate checks the interval is not below MinSyncInterval.
//
// NOTE: Part of the Validator interface.
func (s *Sync) Validate() error {
	if s.Interval < MinSyncInterval {
		return fmt.Errorf("sync: interval must be at least %v, got %v",
			MinSyncInterval, s.Interval)
	}

	return nil
}
