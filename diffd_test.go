package diffd

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/diffd/diffcfg"
	"github.com/lightningnetwork/diffd/headerchain"
	"github.com/lightningnetwork/diffd/signal"
	"github.com/stretchr/testify/require"
)

// esploraServer serves a fake chain of the given height. Every header carries
// the genesis target and its height as nonce.
type esploraServer struct {
	tip uint32

	mu      sync.Mutex
	headers map[string]*wire.BlockHeader
	hashes  map[uint32]string
}

func newEsploraServer(t *testing.T, tip uint32) *httptest.Server {
	t.Helper()

	e := &esploraServer{
		tip:     tip,
		headers: make(map[string]*wire.BlockHeader),
		hashes:  make(map[uint32]string),
	}

	srv := httptest.NewServer(http.HandlerFunc(e.serve))
	t.Cleanup(srv.Close)

	return srv
}

// headerAt returns the hash of the header at the given height, creating it
// on first use.
func (e *esploraServer) headerAt(height uint32) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if hash, ok := e.hashes[height]; ok {
		return hash
	}

	header := &wire.BlockHeader{
		Version:   1,
		Timestamp: time.Unix(1231006505+int64(height)*600, 0),
		Bits:      0x1d00ffff,
		Nonce:     height,
	}
	hash := header.BlockHash().String()
	e.hashes[height] = hash
	e.headers[hash] = header

	return hash
}

func (e *esploraServer) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")

	switch {
	case path == "/blocks/tip/height":
		fmt.Fprintf(w, "%d", e.tip)

	case strings.HasPrefix(path, "/block-height/"):
		height, err := strconv.ParseUint(
			strings.TrimPrefix(path, "/block-height/"), 10, 32,
		)
		if err != nil || uint32(height) > e.tip {
			http.Error(w, "Block not found", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, e.headerAt(uint32(height)))

	case strings.HasPrefix(path, "/block/") &&
		strings.HasSuffix(path, "/header"):

		hash := strings.TrimSuffix(
			strings.TrimPrefix(path, "/block/"), "/header",
		)

		e.mu.Lock()
		header, ok := e.headers[hash]
		e.mu.Unlock()
		if !ok {
			http.Error(w, "Block not found", http.StatusNotFound)
			return
		}

		var buf bytes.Buffer
		if err := header.Serialize(&buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, hex.EncodeToString(buf.Bytes()))

	default:
		http.NotFound(w, r)
	}
}

// freeAddr returns a loopback address nothing listens on.
func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// TestMainLifecycle runs the daemon against a fake API until the first two
// periods are served, then shuts it down through the interceptor.
func TestMainLifecycle(t *testing.T) {
	esplora := newEsploraServer(t, 2*headerchain.PeriodSize)
	listen := freeAddr(t)

	cfg := DefaultConfig()
	cfg.DiffdDir = t.TempDir()
	cfg.LogConfig.Console.Disable = true
	cfg.LogConfig.File.Disable = true
	cfg.Esplora.URL = esplora.URL + "/api"
	cfg.HTTP.Listen = listen
	cfg.Workers.Fetch = 2
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 10 * time.Millisecond

	cleanCfg, err := ValidateConfig(cfg, "")
	require.NoError(t, err)

	interceptor, err := signal.Intercept()
	require.NoError(t, err)

	mainErr := make(chan error, 1)
	go func() {
		mainErr <- Main(cleanCfg, interceptor)
	}()

	url := "http://" + listen + "/difficulties"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var difficulties []float64
		err = json.NewDecoder(resp.Body).Decode(&difficulties)
		if err != nil {
			return false
		}

		return len(difficulties) == 2
	}, 10*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + listen + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.EqualValues(t, 2*headerchain.PeriodSize, status["tip_height"])
	require.EqualValues(t, 2, status["stored_periods"])

	interceptor.RequestShutdown()

	select {
	case err := <-mainErr:
		require.NoError(t, err)

	case <-time.After(10 * time.Second):
		t.Fatal("main did not return after shutdown request")
	}
}

// tipFunc adapts a function to the TipSource interface.
type tipFunc func(ctx context.Context) (uint32, error)

func (f tipFunc) GetTipHeight(ctx context.Context) (uint32, error) {
	return f(ctx)
}

// TestHealthMonitorDisabled asserts no monitor is built without attempts.
func TestHealthMonitorDisabled(t *testing.T) {
	cfg := diffcfg.DefaultHealthCheckConfig().Esplora
	cfg.Attempts = 0

	monitor := newHealthMonitor(cfg, tipFunc(nil), nil)
	require.Nil(t, monitor)
}

// TestHealthMonitorFailure asserts a remote that keeps failing is reported
// on every failed round, not only the first.
func TestHealthMonitorFailure(t *testing.T) {
	var calls atomic.Int32
	remote := tipFunc(func(context.Context) (uint32, error) {
		calls.Add(1)
		return 0, errors.New("unreachable")
	})

	failed := make(chan string, 10)
	monitor := newHealthMonitor(
		&diffcfg.CheckConfig{
			Interval: 10 * time.Millisecond,
			Attempts: 2,
			Timeout:  time.Second,
			Backoff:  time.Millisecond,
		},
		remote,
		func(format string, params ...interface{}) {
			select {
			case failed <- fmt.Sprintf(format, params...):
			default:
			}
		},
	)
	require.NotNil(t, monitor)

	require.NoError(t, monitor.Start())
	defer func() {
		require.NoError(t, monitor.Stop())
	}()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-failed:
			require.Contains(t, msg, "esplora")

		case <-time.After(5 * time.Second):
			t.Fatalf("failure %d of the health check was not "+
				"reported", i+1)
		}
	}
	require.GreaterOrEqual(t, calls.Load(), int32(4))
}
