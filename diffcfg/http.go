package diffcfg

import (
	"fmt"
	"net"
	"time"
)

const (
	// DefaultHTTPListen is the default address of the HTTP server.
	DefaultHTTPListen = "0.0.0.0:3000"

	// DefaultHTTPShutdownTimeout is the default time open requests get
	// to complete on shutdown.
	DefaultHTTPShutdownTimeout = 5 * time.Second
)

// HTTP holds the configuration of the HTTP server.
//
//nolint:ll
type HTTP struct {
	Listen          string        `long:"listen" description:"Address to serve the HTTP API on."`
	ShutdownTimeout time.Duration `long:"shutdowntimeout" description:"Time open requests get to complete on shutdown."`
}

// DefaultHTTPConfig returns an HTTP config with default values.
func DefaultHTTPConfig() *HTTP {
	return &HTTP{
		Listen:          DefaultHTTPListen,
		ShutdownTimeout: DefaultHTTPShutdownTimeout,
	}
}

// Validate checks the listen address is a host:port pair.
//
// NOTE: Part of the Validator interface.
func (h *HTTP) Validate() error {
	if _, _, err := net.SplitHostPort(h.Listen); err != nil {
		return fmt.Errorf("http: invalid listen address %q: %w",
			h.Listen, err)
	}

	if h.ShutdownTimeout <= 0 {
		return fmt.Errorf("http: shutdowntimeout must be positive, "+
			"got %v", h.ShutdownTimeout)
	}

	return nil
}
