package diffd

import (
	"fmt"

	"github.com/lightningnetwork/diffd/backfill"
	"github.com/lightningnetwork/diffd/build"
	"github.com/lightningnetwork/diffd/esplora"
	"github.com/lightningnetwork/diffd/headerchain"
	"github.com/lightningnetwork/diffd/restapi"
	"github.com/lightningnetwork/diffd/signal"
	"github.com/lightningnetwork/diffd/syncer"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Main is the true entry point for diffd. It wires the header chain, the
// remote client, the synchronizer and the HTTP server together and blocks
// until a shutdown is requested through the interceptor. This function is
// required since defers created in the top-level scope of a main method
// aren't executed if os.Exit() is called.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		dfdLog.Info("Shutdown complete")
	}()

	mkErr := func(format string, args ...interface{}) error {
		err := fmt.Errorf(format, args...)
		dfdLog.Errorf("Shutting down because error in main method: %v",
			err)

		return err
	}

	// Show version at startup.
	dfdLog.Infof("Version: %s commit=%s, logging=%s, debuglevel=%s",
		build.Version(), build.Commit, build.LoggingType,
		cfg.DebugLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
	metrics, err := syncer.NewMetrics(registry)
	if err != nil {
		return mkErr("unable to register metrics: %w", err)
	}

	dfdLog.Infof("Using Esplora API at %s", cfg.Esplora.BaseURL())
	client := esplora.NewClient(&esplora.ClientConfig{
		URL:               cfg.Esplora.BaseURL(),
		RequestTimeout:    cfg.Esplora.RequestTimeout,
		RequestsPerSecond: cfg.Esplora.RequestsPerSecond,
		UserAgent:         build.UserAgent(),
	})

	chain := headerchain.NewSparseChain()
	policy := cfg.Retry.Policy()

	headerSyncer, err := syncer.New(&syncer.Config{
		Chain: chain,
		Tips:  client,
		Fetcher: backfill.New(&backfill.Config{
			Source:  client,
			Workers: cfg.Workers.Fetch,
			Retry:   policy,
		}),
		Retry:   policy,
		Ticker:  ticker.New(cfg.Sync.Interval),
		Metrics: metrics,
	})
	if err != nil {
		return mkErr("unable to create syncer: %w", err)
	}

	server := restapi.New(&restapi.Config{
		Listen:          cfg.HTTP.Listen,
		Chain:           chain,
		Status:          headerSyncer,
		Gatherer:        registry,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})
	if err := server.Start(); err != nil {
		return mkErr("unable to start HTTP server: %w", err)
	}
	defer func() {
		if err := server.Stop(); err != nil {
			dfdLog.Errorf("Unable to stop HTTP server: %v", err)
		}
	}()

	if err := headerSyncer.Start(); err != nil {
		return mkErr("unable to start syncer: %w", err)
	}
	defer func() {
		_ = headerSyncer.Stop()
	}()

	// A failing remote is only reported, the syncer keeps retrying on
	// its own schedule.
	monitor := newHealthMonitor(
		cfg.HealthChecks.Esplora, client,
		func(format string, params ...interface{}) {
			dfdLog.Errorf("Health check failed: "+format,
				params...)
		},
	)
	if monitor != nil {
		if err := monitor.Start(); err != nil {
			return mkErr("unable to start health monitor: %w", err)
		}
		defer func() {
			if err := monitor.Stop(); err != nil {
				dfdLog.Errorf("Unable to stop health "+
					"monitor: %v", err)
			}
		}()
	}

	dfdLog.Info("Daemon fully started")

	// Wait for shutdown signal from either a graceful server stop or from
	// the interrupt handler.
	<-interceptor.ShutdownChannel()

	return nil
}
