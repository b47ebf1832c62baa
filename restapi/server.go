package restapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/lightningnetwork/diffd/headerchain"
	"github.com/lightningnetwork/diffd/syncer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultListen is the default address of the HTTP server.
	DefaultListen = "0.0.0.0:3000"

	// DefaultShutdownTimeout bounds how long Stop waits for open
	// requests.
	DefaultShutdownTimeout = 5 * time.Second

	readHeaderTimeout = 2 * time.Second
)

// ChainReader is the read side of the header chain.
type ChainReader interface {
	// Difficulties returns the difficulty of every stored period.
	Difficulties() []float64

	// Snapshot returns the tip height and stored period count.
	Snapshot() headerchain.Snapshot
}

// StatusSource reports whether a sync cycle is running.
type StatusSource interface {
	State() syncer.State
}

// Config holds the server's address and data sources.
type Config struct {
	// Listen is the host:port to listen on.
	Listen string

	// Chain serves /difficulties and /status.
	Chain ChainReader

	// Status is optional, without it /status always reports idle.
	Status StatusSource

	// Gatherer is optional, without it /metrics is not served.
	Gatherer prometheus.Gatherer

	// ShutdownTimeout bounds a graceful Stop.
	ShutdownTimeout time.Duration
}

// Server serves the difficulty series and the daemon's status over HTTP.
type Server struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *Config

	srv      *http.Server
	router   *mux.Router
	listener net.Listener

	wg sync.WaitGroup
}

// New creates a server and registers its routes. Only GET is accepted; other
// methods on a known path are answered with 405.
func New(cfg *Config) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
	}

	s.router.HandleFunc(difficultiesEndpoint, s.handleDifficulties).
		Methods(http.MethodGet)
	s.router.HandleFunc(statusEndpoint, s.handleStatus).
		Methods(http.MethodGet)

	if cfg.Gatherer != nil {
		s.router.Handle(metricsEndpoint, promhttp.HandlerFor(
			cfg.Gatherer, promhttp.HandlerOpts{},
		)).Methods(http.MethodGet)
	}

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// ServeHTTP dispatches a request to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = listener

	log.Infof("HTTP server listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server stopped: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down, waiting up to the shutdown timeout for open
// requests to complete.
func (s *Server) Stop() error {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("HTTP server shutting down...")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	s.wg.Wait()

	return err
}

// ListenAddr returns the bound address, or an empty string before Start.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}
