package policy

import (
	"errors"
	"math/big"
	"sync"
)

const (
	// OddsUnit is the fixed-point scale for decimal odds: 200 == 2.00x.
	OddsUnit = 100

	// BpsDenominator is the basis-point scale for fee rates.
	BpsDenominator = 10_000

	// MaxFeeBps is the hard ceiling on the operator fee rate (10%).
	MaxFeeBps = 1_000
)

var (
	ErrInvalidOdds  = errors.New("odds below minimum unit")
	ErrInvalidStake = errors.New("stake must be positive")
)

// Int128 pool for intermediate products that can exceed int64
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// mulDivFloor computes floor(a*b/denom) using int128 intermediates.
func mulDivFloor(a, b, denom int64) int64 {
	product := getInt128()
	product.Mul(big.NewInt(a), big.NewInt(b))

	quotient := getInt128()
	quotient.Quo(product, big.NewInt(denom))
	result := quotient.Int64()

	putInt128(product)
	putInt128(quotient)

	return result
}

// PotentialPayout computes floor(stake * odds / OddsUnit).
// Odds at or below OddsUnit are rejected: a bet must never be offered at
// break-even-or-worse odds for the bettor, which keeps profit >= 0 on wins.
func PotentialPayout(stake, odds int64) (int64, error) {
	if stake <= 0 {
		return 0, ErrInvalidStake
	}
	if odds < OddsUnit {
		return 0, ErrInvalidOdds
	}
	return mulDivFloor(stake, odds, OddsUnit), nil
}

// WinSettlement is the breakdown of a winning bet's settlement.
type WinSettlement struct {
	Profit    int64
	Fee       int64
	NetPayout int64
}

// FeeOnWin computes the operator fee on a winning bet.
// The fee applies to profit only, never to the returned principal:
// profit = payout - stake; fee = floor(profit * bps / 10000);
// net = payout - fee. Placement enforces odds >= OddsUnit, so profit >= 0
// and therefore fee <= profit always holds.
func FeeOnWin(payout, stake, feeBps int64) WinSettlement {
	profit := payout - stake
	fee := mulDivFloor(profit, feeBps, BpsDenominator)
	return WinSettlement{
		Profit:    profit,
		Fee:       fee,
		NetPayout: payout - fee,
	}
}

// RevenueOnLoss returns the operator revenue accrued when a bet loses.
// The full stake becomes revenue; no funds move because the stake was
// escrowed into the treasury at placement.
func RevenueOnLoss(stake int64) int64 {
	return stake
}

// ValidFeeRate reports whether a proposed fee rate is within bounds.
func ValidFeeRate(bps int64) bool {
	return bps >= 0 && bps <= MaxFeeBps
}

// ValidBetBounds reports whether proposed bet-size bounds are well-formed.
func ValidBetBounds(min, max int64) bool {
	return min > 0 && min <= max
}

// WithinBounds classifies a stake against [min, max].
type BoundCheck int

const (
	BoundOK BoundCheck = iota
	BoundBelowMinimum
	BoundAboveMaximum
)

func CheckBounds(stake, min, max int64) BoundCheck {
	if stake < min {
		return BoundBelowMinimum
	}
	if stake > max {
		return BoundAboveMaximum
	}
	return BoundOK
}
