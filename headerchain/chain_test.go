package headerchain

import (
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// testHeader returns a header whose nonce records the height it stands for.
func testHeader(height uint32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version: 1,
		Bits:    0x1d00ffff,
		Nonce:   height,
	}
}

// TestDifficulty checks the difficulty of well known compact targets.
func TestDifficulty(t *testing.T) {
	tests := []struct {
		name string
		bits uint32
		exp  float64
	}{
		{
			name: "genesis",
			bits: chaincfg.MainNetParams.GenesisBlock.Header.Bits,
			exp:  1,
		},
		{
			name: "wiki example",
			bits: 0x1b0404cb,
			exp:  16307.420938523983,
		},
		{
			name: "regtest limit",
			bits: 0x207fffff,
			exp:  4.6565423739069247e-10,
		},
		{
			name: "zero target",
			bits: 0,
			exp:  0,
		},
		{
			name: "negative target",
			bits: 0x1d80ffff,
			exp:  0,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			header := &wire.BlockHeader{Bits: test.bits}
			require.InEpsilon(t, test.exp+1, Difficulty(header)+1,
				1e-12)
		})
	}
}

// TestPeriodMath checks the period helpers.
func TestPeriodMath(t *testing.T) {
	require.Equal(t, uint32(2016), PeriodSize)
	require.Equal(t, uint32(0), RoundDownToPeriod(2015))
	require.Equal(t, uint32(2016), RoundDownToPeriod(2016))
	require.Equal(t, uint32(2016), RoundDownToPeriod(4031))
	require.Equal(t, uint32(4032), PeriodHeight(2))
}

// TestMissingRange covers which periods are considered complete below the
// tip.
func TestMissingRange(t *testing.T) {
	tests := []struct {
		name     string
		stored   int
		tip      uint32
		expFirst uint32
		expLast  uint32
		expOK    bool
	}{
		{name: "empty chain zero tip", tip: 0},
		{name: "below first boundary", tip: 2015},
		{
			name:    "first boundary",
			tip:     2016,
			expLast: 0,
			expOK:   true,
		},
		{
			name:    "two periods",
			tip:     4032,
			expLast: 1,
			expOK:   true,
		},
		{
			name:    "two periods, one past",
			tip:     4033,
			expLast: 1,
			expOK:   true,
		},
		{
			name:     "partially stored",
			stored:   1,
			tip:      4032 * 5,
			expFirst: 1,
			expLast:  9,
			expOK:    true,
		},
		{name: "fully stored", stored: 2, tip: 4032},
		{name: "fully stored, mid period", stored: 2, tip: 6047},
		{
			name:     "max tip",
			stored:   0,
			tip:      ^uint32(0),
			expFirst: 0,
			expLast:  ^uint32(0)/2016 - 1,
			expOK:    true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			first, last, ok := missingRange(test.stored, test.tip)
			require.Equal(t, test.expOK, ok)
			if !ok {
				return
			}
			require.Equal(t, test.expFirst, first)
			require.Equal(t, test.expLast, last)
		})
	}
}

// TestAppend checks the append rules of the chain.
func TestAppend(t *testing.T) {
	chain := NewSparseChain()

	// Nothing can be stored before the tip covers the first period.
	require.ErrorIs(t, chain.Append(0, testHeader(0)), ErrBeyondTip)

	old, advanced := chain.SetTipHeight(4032)
	require.Zero(t, old)
	require.True(t, advanced)

	require.ErrorIs(t, chain.Append(0, nil), ErrNilHeader)
	require.ErrorIs(t, chain.Append(1, testHeader(2016)), ErrNonContiguous)

	require.NoError(t, chain.Append(0, testHeader(0)))
	require.ErrorIs(t, chain.Append(0, testHeader(0)), ErrNonContiguous)
	require.NoError(t, chain.Append(1, testHeader(2016)))

	// Period 2 starts at the tip and is not complete yet.
	require.ErrorIs(t, chain.Append(2, testHeader(4032)), ErrBeyondTip)

	require.Equal(t, 2, chain.Len())
	header, ok := chain.HeaderAt(1)
	require.True(t, ok)
	require.Equal(t, uint32(2016), header.Nonce)
	_, ok = chain.HeaderAt(2)
	require.False(t, ok)

	require.Equal(t, Snapshot{TipHeight: 4032, Periods: 2},
		chain.Snapshot())
	require.Equal(t, uint32(4032), chain.Snapshot().NextHeight())

	_, _, ok = chain.MissingRange()
	require.False(t, ok)
}

// TestSetTipHeightMonotonic asserts the tip height never decreases.
func TestSetTipHeightMonotonic(t *testing.T) {
	chain := NewSparseChain()

	_, advanced := chain.SetTipHeight(5000)
	require.True(t, advanced)

	old, advanced := chain.SetTipHeight(4000)
	require.Equal(t, uint32(5000), old)
	require.False(t, advanced)
	require.Equal(t, uint32(5000), chain.TipHeight())

	old, advanced = chain.SetTipHeight(5000)
	require.Equal(t, uint32(5000), old)
	require.False(t, advanced)
}

// TestDifficultiesEmpty asserts the read side of an empty chain is an empty,
// non-nil slice.
func TestDifficultiesEmpty(t *testing.T) {
	difficulties := NewSparseChain().Difficulties()
	require.NotNil(t, difficulties)
	require.Empty(t, difficulties)
}

// TestConcurrentReaders runs readers against a growing chain. Run with -race
// to check the locking.
func TestConcurrentReaders(t *testing.T) {
	const periods = 200

	chain := NewSparseChain()
	chain.SetTipHeight(periods * PeriodSize)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			prev := 0
			for prev < periods {
				difficulties := chain.Difficulties()
				if len(difficulties) < prev {
					t.Errorf("chain shrank from %d to %d",
						prev, len(difficulties))
					return
				}
				prev = len(difficulties)

				if chain.Snapshot().Periods < prev {
					t.Errorf("snapshot behind read")
					return
				}
			}
		}()
	}

	for i := uint32(0); i < periods; i++ {
		require.NoError(t, chain.Append(i, testHeader(i*PeriodSize)))
	}

	wg.Wait()
}

// TestChainInvariants drives the chain with random tip updates and appends and
// checks that it never holds a gap or a period beyond the tip.
func TestChainInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chain := NewSparseChain()

		var (
			tip    uint32
			stored []uint32
		)
		steps := rapid.IntRange(1, 100).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "setTip") {
				height := rapid.Uint32Range(0, 50*2016).Draw(
					t, "height",
				)
				chain.SetTipHeight(height)
				if height > tip {
					tip = height
				}

				continue
			}

			index := rapid.Uint32Range(0, 60).Draw(t, "index")
			err := chain.Append(index, testHeader(index*PeriodSize))

			valid := int(index) == len(stored) &&
				(index+1)*PeriodSize <= RoundDownToPeriod(tip)
			if valid {
				if err != nil {
					t.Fatalf("valid append %d rejected: %v",
						index, err)
				}
				stored = append(stored, index)
			} else if err == nil {
				t.Fatalf("invalid append %d accepted, tip %d, "+
					"len %d", index, tip, len(stored))
			}
		}

		if chain.TipHeight() != tip {
			t.Fatalf("tip %d, want %d", chain.TipHeight(), tip)
		}
		if chain.Len() != len(stored) {
			t.Fatalf("len %d, want %d", chain.Len(), len(stored))
		}
		if uint32(chain.Len())*PeriodSize > RoundDownToPeriod(tip) {
			t.Fatalf("len %d beyond tip %d", chain.Len(), tip)
		}
		for i := 0; i < chain.Len(); i++ {
			header, _ := chain.HeaderAt(uint32(i))
			if header.Nonce != uint32(i)*PeriodSize {
				t.Fatalf("period %d holds height %d", i,
					header.Nonce)
			}
		}
	})
}
