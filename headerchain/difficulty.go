package headerchain

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// PeriodSize is the number of blocks between two difficulty adjustments.
var PeriodSize = uint32(
	chaincfg.MainNetParams.TargetTimespan /
		chaincfg.MainNetParams.TargetTimePerBlock,
)

// maxTarget is the difficulty 1 target, compact 0x1d00ffff.
var maxTarget = new(big.Float).SetInt(
	blockchain.CompactToBig(chaincfg.MainNetParams.PowLimitBits),
)

// Difficulty returns the header's difficulty as a multiple of the minimum
// difficulty: the difficulty 1 target divided by the header's target. Headers
// with a zero or negative target report zero.
func Difficulty(header *wire.BlockHeader) float64 {
	target := blockchain.CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		return 0
	}

	ratio := new(big.Float).Quo(maxTarget, new(big.Float).SetInt(target))
	difficulty, _ := ratio.Float64()

	return difficulty
}

// RoundDownToPeriod returns the highest period boundary at or below height.
func RoundDownToPeriod(height uint32) uint32 {
	return height / PeriodSize * PeriodSize
}

// PeriodHeight returns the height of the first block of period index.
func PeriodHeight(index uint32) uint32 {
	return index * PeriodSize
}
