package diffd

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/diffd/backfill"
	"github.com/lightningnetwork/diffd/build"
	"github.com/lightningnetwork/diffd/esplora"
	"github.com/lightningnetwork/diffd/restapi"
	"github.com/lightningnetwork/diffd/retry"
	"github.com/lightningnetwork/diffd/signal"
	"github.com/lightningnetwork/diffd/syncer"
	"github.com/lightningnetwork/lnd/healthcheck"
)

// Subsystem is the logging code of the daemon's main package.
const Subsystem = "DIFD"

// dfdLog is the logger of the main package. It is replaced by SetupLoggers.
var dfdLog = build.NewSubLogger(Subsystem, nil)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	AddSubLogger(root, Subsystem, func(logger btclog.Logger) {
		dfdLog = logger
	})

	AddSubLogger(root, esplora.Subsystem, esplora.UseLogger)
	AddSubLogger(root, retry.Subsystem, retry.UseLogger)
	AddSubLogger(root, backfill.Subsystem, backfill.UseLogger)
	AddSubLogger(root, syncer.Subsystem, syncer.UseLogger)
	AddSubLogger(root, restapi.Subsystem, restapi.UseLogger)
	AddSubLogger(root, healthcheck.Subsystem, healthcheck.UseLogger)
	AddSubLogger(root, signal.Subsystem, signal.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
