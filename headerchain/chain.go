package headerchain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNonContiguous is returned when an append would leave a gap or
	// overwrite a stored period.
	ErrNonContiguous = errors.New("header index is not the next period")

	// ErrBeyondTip is returned when an append would store a period that
	// has not completed below the known tip.
	ErrBeyondTip = errors.New("header period beyond known tip")

	// ErrNilHeader is returned when appending a nil header.
	ErrNilHeader = errors.New("nil header")
)

// Snapshot is a consistent view of the chain's size.
type Snapshot struct {
	// TipHeight is the last tip height reported by the remote.
	TipHeight uint32

	// Periods is the number of stored headers.
	Periods int
}

// NextHeight returns the height of the next header to be stored.
func (s Snapshot) NextHeight() uint32 {
	return PeriodHeight(uint32(s.Periods))
}

// SparseChain stores one header per difficulty period: element i of the
// header slice is the header at height i*PeriodSize. It only grows, and is
// safe for one writer and any number of concurrent readers. Write access is
// only ever held for a single field update.
type SparseChain struct {
	mtx sync.RWMutex

	// tipHeight is the highest height known to exist on the remote chain.
	tipHeight uint32

	// headers has no gaps and satisfies
	// len(headers)*PeriodSize <= RoundDownToPeriod(tipHeight).
	headers []*wire.BlockHeader
}

// NewSparseChain returns an empty chain with a zero tip height.
func NewSparseChain() *SparseChain {
	return &SparseChain{}
}

// TipHeight returns the last recorded tip height.
func (c *SparseChain) TipHeight() uint32 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return c.tipHeight
}

// SetTipHeight records a new tip height and returns the previous one. The tip
// never moves backwards: a lower height is ignored and advanced is false.
func (c *SparseChain) SetTipHeight(height uint32) (uint32, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	old := c.tipHeight
	if height < old {
		return old, false
	}
	c.tipHeight = height

	return old, height > old
}

// Len returns the number of stored headers.
func (c *SparseChain) Len() int {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return len(c.headers)
}

// Snapshot returns the tip height and the number of stored headers, read
// under one lock.
func (c *SparseChain) Snapshot() Snapshot {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return Snapshot{
		TipHeight: c.tipHeight,
		Periods:   len(c.headers),
	}
}

// MissingRange returns the inclusive range of period indices that are
// complete below the tip but not stored yet. ok is false if there are none.
func (c *SparseChain) MissingRange() (first, last uint32, ok bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return missingRange(len(c.headers), c.tipHeight)
}

// missingRange computes the indices [stored, tip/PeriodSize) as an inclusive
// range.
func missingRange(stored int, tipHeight uint32) (uint32, uint32, bool) {
	available := tipHeight / PeriodSize
	if uint64(stored) >= uint64(available) {
		return 0, 0, false
	}

	return uint32(stored), available - 1, true
}

// Append stores the header of period index. The index must be the next one,
// and the period must be covered by the tip.
func (c *SparseChain) Append(index uint32, header *wire.BlockHeader) error {
	if header == nil {
		return ErrNilHeader
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	next := len(c.headers)
	if uint64(index) != uint64(next) {
		return fmt.Errorf("%w: got %d, want %d", ErrNonContiguous,
			index, next)
	}

	limit := uint64(RoundDownToPeriod(c.tipHeight))
	if (uint64(index)+1)*uint64(PeriodSize) > limit {
		return fmt.Errorf("%w: period %d, tip height %d", ErrBeyondTip,
			index, c.tipHeight)
	}

	c.headers = append(c.headers, header)

	return nil
}

// HeaderAt returns the header stored for period index.
func (c *SparseChain) HeaderAt(index uint32) (*wire.BlockHeader, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	if uint64(index) >= uint64(len(c.headers)) {
		return nil, false
	}

	return c.headers[index], true
}

// Difficulties returns the difficulty of every stored header in ascending
// height order. The result is never nil.
func (c *SparseChain) Difficulties() []float64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	difficulties := make([]float64, len(c.headers))
	for i, header := range c.headers {
		difficulties[i] = Difficulty(header)
	}

	return difficulties
}
