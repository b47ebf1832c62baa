package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/diffd/backfill"
	"github.com/lightningnetwork/diffd/headerchain"
	"github.com/lightningnetwork/diffd/logutil"
	"github.com/lightningnetwork/diffd/retry"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultInterval is the default delay between the end of one sync cycle and
// the start of the next.
const DefaultInterval = 600 * time.Second

var (
	// ErrTipUnavailable is returned when a cycle could not learn the
	// remote tip height.
	ErrTipUnavailable = errors.New("tip height unavailable")

	// ErrSyncerStopped is returned by Start once the syncer was stopped.
	ErrSyncerStopped = errors.New("syncer stopped")
)

// State is the activity of the synchronizer.
type State uint32

const (
	// StateIdle means no cycle is running.
	StateIdle State = iota

	// StateSyncing means a cycle is querying the tip or backfilling.
	StateSyncing
)

// String returns a human readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(s))
	}
}

// TipSource reports the height of the remote chain tip. It is implemented by
// *esplora.Client.
type TipSource interface {
	// GetTipHeight returns the current tip height.
	GetTipHeight(ctx context.Context) (uint32, error)
}

// Config holds the dependencies of the Syncer.
type Config struct {
	// Chain receives the tip height and the fetched headers.
	Chain *headerchain.SparseChain

	// Tips is asked for the tip height at the start of every cycle.
	Tips TipSource

	// Fetcher backfills missing periods.
	Fetcher *backfill.Fetcher

	// Retry governs the tip query.
	Retry *retry.Policy

	// Ticker paces the cycles. It is paused while a cycle runs, so the
	// next one starts a full interval after the previous one ended.
	Ticker ticker.Ticker

	// Metrics is optional.
	Metrics *Metrics
}

// Syncer periodically learns the remote tip and backfills the chain up to it.
type Syncer struct {
	started sync.Once
	stopped sync.Once

	cfg *Config

	state atomic.Uint32

	gm *fn.GoroutineManager
}

// New validates the config and creates a Syncer.
func New(cfg *Config) (*Syncer, error) {
	switch {
	case cfg.Chain == nil:
		return nil, errors.New("syncer requires a chain")
	case cfg.Tips == nil:
		return nil, errors.New("syncer requires a tip source")
	case cfg.Fetcher == nil:
		return nil, errors.New("syncer requires a fetcher")
	case cfg.Ticker == nil:
		return nil, errors.New("syncer requires a ticker")
	}

	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultPolicy()
	}

	return &Syncer{
		cfg: cfg,
		gm:  fn.NewGoroutineManager(),
	}, nil
}

// State returns whether a cycle is running.
func (s *Syncer) State() State {
	return State(s.state.Load())
}

// Start launches the sync loop: one cycle right away, then one per tick.
func (s *Syncer) Start() error {
	var err error
	s.started.Do(func() {
		log.Info("Synchronizer starting")

		if !s.gm.Go(context.Background(), s.syncLoop) {
			err = ErrSyncerStopped
		}
	})

	return err
}

// Stop cancels a running cycle and waits for the loop to exit.
func (s *Syncer) Stop() error {
	s.stopped.Do(func() {
		log.Info("Synchronizer shutting down...")
		defer log.Debug("Synchronizer shutdown complete")

		s.gm.Stop()
	})

	return nil
}

// syncLoop runs cycles until ctx is cancelled. A failed cycle is logged and
// retried on the next tick.
func (s *Syncer) syncLoop(ctx context.Context) {
	defer s.cfg.Ticker.Stop()

	for {
		s.cfg.Ticker.Pause()

		err := s.SyncOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return

		case err != nil:
			log.Errorf("Sync cycle failed: %v", err)
		}

		s.cfg.Ticker.Resume()

		select {
		case <-s.cfg.Ticker.Ticks():
		case <-ctx.Done():
			return
		}
	}
}

// SyncOnce runs a single cycle: query the tip, record it, then fetch and
// append every period that completed below it. If the tip is unavailable
// the chain is left untouched and the returned error matches
// ErrTipUnavailable. A failed backfill keeps the headers appended before
// the failure.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.state.Store(uint32(StateSyncing))
	s.cfg.Metrics.setSyncing(true)
	defer func() {
		s.cfg.Metrics.setSyncing(false)
		s.state.Store(uint32(StateIdle))
	}()

	start := time.Now()
	err := s.syncOnce(ctx)
	s.cfg.Metrics.cycleDone(err, time.Since(start).Seconds())

	return err
}

func (s *Syncer) syncOnce(ctx context.Context) error {
	chain := s.cfg.Chain

	tip, err := retry.Do(
		ctx, s.cfg.Retry, "tip height", s.cfg.Tips.GetTipHeight,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTipUnavailable, err)
	}

	old, advanced := chain.SetTipHeight(tip)
	switch {
	case tip < old:
		log.Warnf("Remote tip %d is below known tip %d, ignoring",
			tip, old)

	case advanced:
		log.Debugf("Tip advanced from %d to %d", old, tip)
	}
	s.cfg.Metrics.setTipHeight(chain.TipHeight())

	first, last, ok := chain.MissingRange()
	if !ok {
		log.Debugf("Chain up to date: %d periods, tip %d", chain.Len(),
			chain.TipHeight())

		return nil
	}

	log.Infof("Backfilling periods %d..%d (heights %d..%d), tip %d",
		first, last, headerchain.PeriodHeight(first),
		headerchain.PeriodHeight(last), chain.TipHeight())

	var stored int
	err = s.cfg.Fetcher.Fetch(
		ctx, first, last,
		func(index uint32, header *wire.BlockHeader) error {
			if err := chain.Append(index, header); err != nil {
				return err
			}
			stored++
			s.cfg.Metrics.headerStored(chain.Len())

			log.Debugf("Stored period %d (height %d), difficulty %v",
				index, headerchain.PeriodHeight(index),
				logutil.NewLogClosure(func() string {
					return fmt.Sprintf("%.2f",
						headerchain.Difficulty(header))
				}))

			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("backfill of periods %d..%d stopped after "+
			"%d: %w", first, last, stored, err)
	}

	log.Infof("Stored %d periods, next period starts at height %d",
		stored, chain.Snapshot().NextHeight())

	return nil
}
