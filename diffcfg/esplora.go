package diffcfg

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultEsploraHost is the host of the public API queried by
	// default.
	DefaultEsploraHost = "mempool.sirion.io"

	// DefaultEsploraRequestTimeout is the default timeout for HTTP
	// requests to the Esplora API.
	DefaultEsploraRequestTimeout = 30 * time.Second
)

// Esplora holds the configuration options for the daemon's connection to
// an Esplora HTTP API server (e.g., mempool.space, blockstream.info, or
// a local electrs/mempool instance).
//
//nolint:ll
type Esplora struct {
	// Host is the API host. The base URL is https://<host>/api.
	Host string `long:"host" description:"Host of the Esplora API, queried as https://<host>/api"`

	// URL overrides Host with a full base URL.
	// Examples:
	//   - http://localhost:3002 (local electrs/mempool)
	//   - https://blockstream.info/api (Blockstream mainnet)
	URL string `long:"url" description:"Full base URL of the Esplora API, overrides host (e.g., http://localhost:3002)"`

	// RequestTimeout is the timeout for HTTP requests sent to the Esplora
	// API.
	RequestTimeout time.Duration `long:"requesttimeout" description:"Timeout for HTTP requests to the Esplora API."`

	// RequestsPerSecond throttles outbound requests. Zero disables it.
	RequestsPerSecond float64 `long:"requestspersecond" description:"Maximum rate of requests to the Esplora API, 0 for unlimited."`
}

// DefaultEsploraConfig returns a new Esplora config with default values
// populated.
func DefaultEsploraConfig() *Esplora {
	return &Esplora{
		Host:           DefaultEsploraHost,
		RequestTimeout: DefaultEsploraRequestTimeout,
	}
}

// BaseURL returns the API base URL without a trailing slash.
func (e *Esplora) BaseURL() string {
	if e.URL != "" {
		return strings.TrimRight(e.URL, "/")
	}

	return "https://" + e.Host + "/api"
}

// Validate checks the URL is absolute and the limits are sane.
//
// NOTE: Part of the Validator interface.
func (e *Esplora) Validate() error {
	if e.URL == "" && e.Host == "" {
		return fmt.Errorf("esplora: one of host or url must be set")
	}

	u, err := url.Parse(e.BaseURL())
	if err != nil {
		return fmt.Errorf("esplora: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("esplora: unsupported url scheme %q",
			u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("esplora: url %q has no host", e.BaseURL())
	}

	if e.RequestTimeout <= 0 {
		return fmt.Errorf("esplora: requesttimeout must be positive, "+
			"got %v", e.RequestTimeout)
	}
	if e.RequestsPerSecond < 0 {
		return fmt.Errorf("esplora: requestspersecond must not be "+
			"negative, got %v", e.RequestsPerSecond)
	}

	return nil
}
