// Package decimals rescales fixed-point integers between decimal
// precisions. All price math in this module runs on *big.Int values
// scaled by 10^decimals; this package is the single place where a
// value crosses from one precision to another.
package decimals

import "math/big"

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
	ten = big.NewInt(10)
)

// Pow10 returns 10^n as a fresh big.Int. n must be non-negative.
func Pow10(n int32) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// DivRound divides a by b rounding half-up. Inputs are expected to be
// non-negative; prices in this module never go below zero. Matches the
// divRound behaviour of the on-chain math this module mirrors, so
// results stay verifiable against contract state bit-for-bit.
func DivRound(a, b *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(a, b, new(big.Int))
	// rem*2 >= b means the discarded fraction is >= 0.5.
	if new(big.Int).Mul(rem, two).Cmp(b) >= 0 {
		quo.Add(quo, one)
	}
	return quo
}

// Convert rescales v from `from` decimals to `to` decimals. Growing
// precision multiplies exactly; shrinking divides with half-up
// rounding. A nil input means "no data" and propagates as nil rather
// than zero.
func Convert(v *big.Int, from, to int32) *big.Int {
	if v == nil {
		return nil
	}
	switch {
	case to == from:
		return new(big.Int).Set(v)
	case to > from:
		return new(big.Int).Mul(v, Pow10(to-from))
	default:
		return DivRound(v, Pow10(from-to))
	}
}
