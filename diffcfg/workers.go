package diffcfg

import "fmt"

const (
	// DefaultFetchWorkers is the default maximum number of concurrent
	// header fetches during a backfill.
	DefaultFetchWorkers = 10
)

// Workers exposes CLI configuration for turning resources consumed by worker
// pools.
//
//nolint:ll
type Workers struct {
	// Fetch is the maximum number of concurrent header fetches.
	Fetch int `long:"fetch" description:"Maximum number of concurrent header fetches during a backfill."`
}

// DefaultWorkersConfig returns a Workers config with default values.
func DefaultWorkersConfig() *Workers {
	return &Workers{
		Fetch: DefaultFetchWorkers,
	}
}

// Validate checks that the Workers configuration is sane. The number of
// fetch workers must be positive.
//
// NOTE: Part of the Validator interface.
func (w *Workers) Validate() error {
	if w.Fetch <= 0 {
		return fmt.Errorf("number of fetch workers (%d) must be "+
			"positive", w.Fetch)
	}

	return nil
}

// Compile-time constraint to ensure Workers implements the Validator
// interface.
var _ Validator = (*Workers)(nil)
