package backfill

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/diffd/esplora"
	"github.com/lightningnetwork/diffd/headerchain"
	"github.com/lightningnetwork/diffd/logutil"
	"github.com/lightningnetwork/diffd/retry"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the default number of concurrent header fetches.
const DefaultWorkers = 10

// HeaderSource resolves heights to headers on the remote chain. It is
// implemented by *esplora.Client.
type HeaderSource interface {
	// GetBlockHashByHeight returns the hash of the block at height.
	GetBlockHashByHeight(ctx context.Context,
		height uint32) (*chainhash.Hash, error)

	// GetBlockHeader returns the header of the block with the given
	// hash.
	GetBlockHeader(ctx context.Context,
		hash *chainhash.Hash) (*wire.BlockHeader, error)
}

// DeliverFunc receives fetched headers in ascending index order. Returning an
// error aborts the batch.
type DeliverFunc func(index uint32, header *wire.BlockHeader) error

// Config holds the dependencies of a Fetcher.
type Config struct {
	// Source is queried for hashes and headers.
	Source HeaderSource

	// Workers caps the number of periods outstanding at once, whether
	// their fetch is in flight or their header waits for delivery.
	Workers int

	// Retry is applied to every remote call separately.
	Retry *retry.Policy
}

// Fetcher backfills ranges of period headers with bounded concurrency and
// delivers them in order.
type Fetcher struct {
	cfg *Config
}

// New creates a Fetcher. A non-positive worker count falls back to
// DefaultWorkers and a nil retry policy to retry.DefaultPolicy.
func New(cfg *Config) *Fetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultPolicy()
	}

	return &Fetcher{cfg: cfg}
}

// result is one fetched period.
type result struct {
	index  uint32
	header *wire.BlockHeader
}

// Fetch fetches the headers of the periods first through last, inclusive, and
// passes each one to deliver in ascending order from the calling goroutine.
// Fetches complete in any order; a header is held back until every lower
// index has been delivered. If a period exhausts its retries the remaining
// work is cancelled and a *BatchError is returned. An error returned by
// deliver is returned as is.
func (f *Fetcher) Fetch(ctx context.Context, first, last uint32,
	deliver DeliverFunc) error {

	if first > last {
		return nil
	}

	count := uint64(last) - uint64(first) + 1
	workers := f.cfg.Workers
	if uint64(workers) > count {
		workers = int(count)
	}

	log.Debugf("Fetching periods %d..%d (heights %d..%d) with %d workers",
		first, last, headerchain.PeriodHeight(first),
		headerchain.PeriodHeight(last), workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)

	var (
		jobs    = make(chan uint32)
		results = make(chan result, workers)

		// slots is a semaphore bounding the number of dispatched but
		// undelivered periods. The dispatcher takes a slot per index
		// and the collector returns it on delivery.
		slots = make(chan struct{}, workers)
	)

	eg.Go(func() error {
		defer close(jobs)

		for index := first; ; index++ {
			select {
			case slots <- struct{}{}:
			case <-egCtx.Done():
				return nil
			}

			select {
			case jobs <- index:
			case <-egCtx.Done():
				return nil
			}

			if index == last {
				return nil
			}
		}
	})

	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			for index := range jobs {
				header, err := f.fetchHeader(egCtx, index)
				if err != nil {
					return &BatchError{
						Index:  index,
						Height: headerchain.PeriodHeight(index),
						Err:    err,
					}
				}

				select {
				case results <- result{index, header}:
				case <-egCtx.Done():
					return nil
				}
			}

			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- eg.Wait()
		close(results)
	}()

	var (
		pending    = make(map[uint32]*wire.BlockHeader, workers)
		next       = first
		delivered  uint64
		deliverErr error
	)
	for res := range results {
		// After a failed delivery the channel is only drained so the
		// workers can exit.
		if deliverErr != nil {
			continue
		}

		pending[res.index] = res.header
		for {
			header, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)

			if err := deliver(next, header); err != nil {
				deliverErr = err
				cancel()

				break
			}
			delivered++
			<-slots

			next++
		}
	}

	err := <-waitErr
	switch {
	case deliverErr != nil:
		return deliverErr

	case err != nil:
		log.Debugf("Backfill failed after delivering %d of %d "+
			"periods: %v", delivered, count, err)

		return err

	case delivered != count:
		// Only reachable if the parent context was cancelled.
		return fmt.Errorf("backfill interrupted after %d of %d "+
			"periods: %w", delivered, count, ctx.Err())
	}

	return nil
}

// fetchHeader resolves the period's height to a block hash, then the hash to
// its header, retrying each call on its own.
func (f *Fetcher) fetchHeader(ctx context.Context,
	index uint32) (*wire.BlockHeader, error) {

	height := headerchain.PeriodHeight(index)

	hash, err := retry.Do(
		ctx, f.cfg.Retry, fmt.Sprintf("block hash at height %d", height),
		func(ctx context.Context) (*chainhash.Hash, error) {
			return f.cfg.Source.GetBlockHashByHeight(ctx, height)
		},
	)
	if err != nil {
		return nil, err
	}

	header, err := retry.Do(
		ctx, f.cfg.Retry, fmt.Sprintf("header of block %v", hash),
		func(ctx context.Context) (*wire.BlockHeader, error) {
			header, err := f.cfg.Source.GetBlockHeader(ctx, hash)

			// A header that failed to decode is served the same
			// way again.
			var decodeErr *esplora.DecodeError
			if errors.As(err, &decodeErr) {
				return nil, retry.Permanent(err)
			}

			return header, err
		},
	)
	if err != nil {
		return nil, err
	}

	log.Tracef("Fetched header at height %d: %v", height,
		logutil.SpewLogClosure(header))

	return header, nil
}
