package syncer

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/diffd/backfill"
	"github.com/lightningnetwork/diffd/headerchain"
	"github.com/lightningnetwork/diffd/retry"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky remote")

// mockRemote is an in-memory remote chain. Block hashes encode their height
// so headers can be served without an index.
type mockRemote struct {
	mtx sync.Mutex

	tip    uint32
	tipErr error

	// headerErr, if set, is consulted for every header lookup.
	headerErr func(height uint32) error

	// hang makes header lookups block until their context is done.
	hang bool

	tipCalls    int
	headerCalls int
}

func (m *mockRemote) setTip(tip uint32, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.tip, m.tipErr = tip, err
}

func (m *mockRemote) counts() (int, int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.tipCalls, m.headerCalls
}

func (m *mockRemote) GetTipHeight(context.Context) (uint32, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.tipCalls++

	return m.tip, m.tipErr
}

func (m *mockRemote) GetBlockHashByHeight(_ context.Context,
	height uint32) (*chainhash.Hash, error) {

	var hash chainhash.Hash
	binary.LittleEndian.PutUint32(hash[:4], height)

	return &hash, nil
}

func (m *mockRemote) GetBlockHeader(ctx context.Context,
	hash *chainhash.Hash) (*wire.BlockHeader, error) {

	height := binary.LittleEndian.Uint32(hash[:4])

	m.mtx.Lock()
	m.headerCalls++
	hang, headerErr := m.hang, m.headerErr
	m.mtx.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if headerErr != nil {
		if err := headerErr(height); err != nil {
			return nil, err
		}
	}

	return &wire.BlockHeader{
		Version: 1,
		Bits:    0x1d00ffff,
		Nonce:   height,
	}, nil
}

// fastPolicy returns a retry policy with millisecond waits.
func fastPolicy() *retry.Policy {
	return &retry.Policy{
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     2 * time.Millisecond,
		MaxAttempts:     2,
		MaxElapsedTime:  time.Minute,
	}
}

type testHarness struct {
	chain  *headerchain.SparseChain
	remote *mockRemote
	ticker *ticker.Force
	syncer *Syncer
}

func newTestHarness(t *testing.T, tip uint32, metrics *Metrics) *testHarness {
	t.Helper()

	h := &testHarness{
		chain:  headerchain.NewSparseChain(),
		remote: &mockRemote{tip: tip},
		ticker: ticker.NewForce(time.Hour),
	}

	var err error
	h.syncer, err = New(&Config{
		Chain: h.chain,
		Tips:  h.remote,
		Fetcher: backfill.New(&backfill.Config{
			Source:  h.remote,
			Workers: 3,
			Retry:   fastPolicy(),
		}),
		Retry:   fastPolicy(),
		Ticker:  h.ticker,
		Metrics: metrics,
	})
	require.NoError(t, err)

	return h
}

// assertChain checks the chain holds exactly the given number of periods,
// each with the header at its period height.
func assertChain(t *testing.T, chain *headerchain.SparseChain, periods int) {
	t.Helper()

	require.Equal(t, periods, chain.Len())
	require.Len(t, chain.Difficulties(), periods)
	for i := 0; i < periods; i++ {
		header, ok := chain.HeaderAt(uint32(i))
		require.True(t, ok)
		require.Equal(t, uint32(i)*headerchain.PeriodSize, header.Nonce)
	}
}

// TestSyncOnceTips runs a first cycle against various tips.
func TestSyncOnceTips(t *testing.T) {
	tests := []struct {
		name       string
		tip        uint32
		expPeriods int
	}{
		{name: "genesis only", tip: 0, expPeriods: 0},
		{name: "first period incomplete", tip: 2015, expPeriods: 0},
		{name: "first period complete", tip: 2016, expPeriods: 1},
		{name: "two periods", tip: 4032, expPeriods: 2},
		{name: "mid period", tip: 20000, expPeriods: 9},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newTestHarness(t, test.tip, nil)

			require.NoError(t, h.syncer.SyncOnce(context.Background()))
			require.Equal(t, test.tip, h.chain.TipHeight())
			assertChain(t, h.chain, test.expPeriods)
			require.Equal(t, StateIdle, h.syncer.State())

			// Every difficulty is one for the test headers.
			for _, d := range h.chain.Difficulties() {
				require.Equal(t, 1.0, d)
			}
		})
	}
}

// TestSyncOnceIdempotent asserts a second cycle at the same tip fetches
// nothing.
func TestSyncOnceIdempotent(t *testing.T) {
	h := newTestHarness(t, 4032, nil)

	require.NoError(t, h.syncer.SyncOnce(context.Background()))
	_, headers := h.remote.counts()
	require.Equal(t, 2, headers)

	require.NoError(t, h.syncer.SyncOnce(context.Background()))
	tips, headersAfter := h.remote.counts()
	require.Equal(t, 2, tips)
	require.Equal(t, headers, headersAfter)
	assertChain(t, h.chain, 2)
}

// TestSyncOnceTipGrowth asserts only the new periods are fetched as the tip
// grows.
func TestSyncOnceTipGrowth(t *testing.T) {
	h := newTestHarness(t, 4032, nil)
	require.NoError(t, h.syncer.SyncOnce(context.Background()))

	h.remote.setTip(10000, nil)
	require.NoError(t, h.syncer.SyncOnce(context.Background()))
	assertChain(t, h.chain, 4)

	_, headers := h.remote.counts()
	require.Equal(t, 4, headers)
}

// TestSyncOnceLowerTip asserts a tip below the known one is ignored.
func TestSyncOnceLowerTip(t *testing.T) {
	h := newTestHarness(t, 6048, nil)
	require.NoError(t, h.syncer.SyncOnce(context.Background()))

	h.remote.setTip(2016, nil)
	require.NoError(t, h.syncer.SyncOnce(context.Background()))
	require.Equal(t, uint32(6048), h.chain.TipHeight())
	assertChain(t, h.chain, 3)
}

// TestSyncOnceTipUnavailable asserts a failed tip query leaves the chain as
// it was.
func TestSyncOnceTipUnavailable(t *testing.T) {
	h := newTestHarness(t, 0, nil)
	h.remote.setTip(0, errFlaky)

	err := h.syncer.SyncOnce(context.Background())
	require.ErrorIs(t, err, ErrTipUnavailable)
	require.ErrorIs(t, err, retry.ErrExhausted)
	require.ErrorIs(t, err, errFlaky)
	require.Zero(t, h.chain.TipHeight())
	assertChain(t, h.chain, 0)

	h.remote.setTip(4032, nil)
	require.NoError(t, h.syncer.SyncOnce(context.Background()))

	h.remote.setTip(8064, errFlaky)
	require.ErrorIs(t, h.syncer.SyncOnce(context.Background()),
		ErrTipUnavailable)
	require.Equal(t, uint32(4032), h.chain.TipHeight())
	assertChain(t, h.chain, 2)
}

// TestSyncOncePartialFailure fails one period and asserts the chain keeps
// exactly the periods before it, then completes on the next cycle.
func TestSyncOncePartialFailure(t *testing.T) {
	const failing = 5

	h := newTestHarness(t, 12*2016, nil)

	var (
		mtx     sync.Mutex
		healthy bool
	)
	h.remote.headerErr = func(height uint32) error {
		mtx.Lock()
		isHealthy := healthy
		mtx.Unlock()

		if isHealthy || height != failing*headerchain.PeriodSize {
			return nil
		}

		// Hold the failure back until every earlier period is stored,
		// so the surviving prefix has a known length.
		deadline := time.Now().Add(5 * time.Second)
		for h.chain.Len() < failing && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}

		return errFlaky
	}

	err := h.syncer.SyncOnce(context.Background())
	require.ErrorIs(t, err, backfill.ErrBatchFetchFailed)

	var batchErr *backfill.BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, uint32(failing), batchErr.Index)

	// The tip was recorded before the backfill.
	require.Equal(t, uint32(12*2016), h.chain.TipHeight())
	require.Equal(t, failing, h.chain.Len())
	assertChain(t, h.chain, failing)

	mtx.Lock()
	healthy = true
	mtx.Unlock()

	require.NoError(t, h.syncer.SyncOnce(context.Background()))
	assertChain(t, h.chain, 12)
}

// TestSyncLoop runs the loop, survives a failed cycle and picks up a new tip
// on the next tick.
func TestSyncLoop(t *testing.T) {
	h := newTestHarness(t, 4032, nil)

	require.NoError(t, h.syncer.Start())
	defer func() {
		require.NoError(t, h.syncer.Stop())
	}()

	// The first cycle runs without waiting for a tick.
	require.Eventually(t, func() bool {
		return h.chain.Len() == 2
	}, time.Second, time.Millisecond)

	// A tick is only received once the previous cycle is over.
	h.remote.setTip(0, errFlaky)
	h.ticker.Force <- time.Time{}
	h.ticker.Force <- time.Time{}

	tips, _ := h.remote.counts()
	require.GreaterOrEqual(t, tips, 3)
	assertChain(t, h.chain, 2)

	h.remote.setTip(8064, nil)
	h.ticker.Force <- time.Time{}

	require.Eventually(t, func() bool {
		return h.chain.Len() == 4
	}, time.Second, time.Millisecond)
	assertChain(t, h.chain, 4)
}

// TestStopCancelsCycle stops the syncer while a backfill hangs.
func TestStopCancelsCycle(t *testing.T) {
	h := newTestHarness(t, 4032, nil)
	h.remote.hang = true

	require.NoError(t, h.syncer.Start())
	require.Eventually(t, func() bool {
		_, headers := h.remote.counts()
		return headers > 0
	}, time.Second, time.Millisecond)
	require.Equal(t, StateSyncing, h.syncer.State())

	require.NoError(t, h.syncer.Stop())
	require.Equal(t, StateIdle, h.syncer.State())
	require.Zero(t, h.chain.Len())

	// Stopping twice is harmless.
	require.NoError(t, h.syncer.Stop())
}

// TestMetrics checks the collectors after a successful and a failed cycle.
func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	require.Error(t, err)

	h := newTestHarness(t, 6048, metrics)
	require.NoError(t, h.syncer.SyncOnce(context.Background()))

	require.Equal(t, 6048.0, testutil.ToFloat64(metrics.tipHeight))
	require.Equal(t, 3.0, testutil.ToFloat64(metrics.storedPeriods))
	require.Equal(t, 3.0, testutil.ToFloat64(metrics.headersFetched))
	require.Zero(t, testutil.ToFloat64(metrics.syncing))

	h.remote.setTip(0, errFlaky)
	require.Error(t, h.syncer.SyncOnce(context.Background()))

	require.Equal(t, 1.0, testutil.ToFloat64(
		metrics.cycles.WithLabelValues(resultSuccess),
	))
	require.Equal(t, 1.0, testutil.ToFloat64(
		metrics.cycles.WithLabelValues(resultFailure),
	))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.cycleDuration))
}

// TestNewValidation asserts missing dependencies are rejected.
func TestNewValidation(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)

	s, err := New(&Config{
		Chain:   headerchain.NewSparseChain(),
		Tips:    &mockRemote{},
		Fetcher: backfill.New(&backfill.Config{Source: &mockRemote{}}),
		Ticker:  ticker.NewForce(time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, s.cfg.Retry)
	require.Equal(t, "syncing", StateSyncing.String())
}
