package diffd

import (
	"context"

	"github.com/lightningnetwork/diffd/diffcfg"
	"github.com/lightningnetwork/lnd/healthcheck"
)

// TipSource is the remote call the health check exercises.
type TipSource interface {
	GetTipHeight(ctx context.Context) (uint32, error)
}

// newHealthMonitor creates a monitor that periodically queries the remote tip
// height. onFailure is called every time the check has failed all its
// attempts, after which the check is rearmed. A nil monitor is returned if the
// check is disabled.
func newHealthMonitor(cfg *diffcfg.CheckConfig, remote TipSource,
	onFailure func(string, ...interface{})) *healthcheck.Monitor {

	if cfg.Attempts == 0 {
		dfdLog.Info("Esplora health check disabled")
		return nil
	}

	newCheck := func() *healthcheck.Observation {
		return healthcheck.NewObservation(
			"esplora",
			func() error {
				ctx, cancel := context.WithTimeout(
					context.Background(), cfg.Timeout,
				)
				defer cancel()

				_, err := remote.GetTipHeight(ctx)

				return err
			},
			cfg.Interval, cfg.Timeout, cfg.Backoff, cfg.Attempts,
		)
	}

	// An observation stops once it has failed, so a fresh one takes
	// over. It exits right away if the monitor is already stopped.
	var monitor *healthcheck.Monitor
	monitor = healthcheck.NewMonitor(&healthcheck.Config{
		Checks: []*healthcheck.Observation{newCheck()},
		Shutdown: func(format string, params ...interface{}) {
			onFailure(format, params...)

			if err := monitor.AddCheck(newCheck()); err != nil {
				dfdLog.Errorf("Unable to rearm esplora health "+
					"check: %v", err)
			}
		},
	})

	return monitor
}
