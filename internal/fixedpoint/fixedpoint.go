// Package fixedpoint implements the integer arithmetic shared by the
// vault and engine: prices carry 6 decimal places, sizes carry 18. Every
// formula here pre-multiplies in math/big before dividing, so a 6-decimal
// price times an 18-decimal size never truncates early. Mixing the two
// scales naively (dividing by the wrong power of ten) is the one bug this
// package exists to make impossible.
package fixedpoint

import "math/big"

const (
	// PriceScale is 10^6, the price tick.
	PriceScale = 1_000_000
	// SizeScale is 10^18, the size tick.
	SizeScale = 1_000_000_000_000_000_000
)

var bigSizeScale = big.NewInt(SizeScale)

// Notional returns price * size / 10^18, i.e. the quote-tick value of a
// fill or a position at a given price.
func Notional(price int64, size uint64) int64 {
	n := new(big.Int).Mul(big.NewInt(price), new(big.Int).SetUint64(size))
	n.Quo(n, bigSizeScale)
	return n.Int64()
}

// RequiredMargin is the 100% initial margin for a position of absolute
// size at the given price: |s|*price/10^18, in quote-ticks.
func RequiredMargin(absSize uint64, price int64) int64 {
	return Notional(price, absSize)
}

// PnL returns the signed quote-tick P&L of a position with signed
// size-ticks s, entry price e and mark price m: (m-e)*s/10^18.
//
// Dividing by 10^18 (the size scale) rather than 10^6 (the price scale)
// is what keeps this dimensionally consistent with RequiredMargin and
// Notional above — a price-ticks-by-size-ticks product only collapses to
// quote-ticks when divided by the size scale. Dividing by 10^6 instead
// (as a naive reading of "6-decimal prices" might suggest) is exactly the
// scale-mixing bug this package is built to avoid; it would overstate
// every P&L figure by a factor of 10^12.
func PnL(mark, entry int64, signedSize int64) int64 {
	diff := big.NewInt(mark - entry)
	s := big.NewInt(signedSize)
	n := new(big.Int).Mul(diff, s)
	n.Quo(n, bigSizeScale)
	return n.Int64()
}

// VWAP returns the size-weighted average price of two fills, truncating
// toward zero. Both numerator terms already carry the size scale, so it
// cancels against the denominator without a further division.
func VWAP(sizeA uint64, priceA int64, sizeB uint64, priceB int64) int64 {
	totalSize := sizeA + sizeB
	if totalSize == 0 {
		return 0
	}
	a := new(big.Int).Mul(new(big.Int).SetUint64(sizeA), big.NewInt(priceA))
	b := new(big.Int).Mul(new(big.Int).SetUint64(sizeB), big.NewInt(priceB))
	sum := a.Add(a, b)
	sum.Quo(sum, new(big.Int).SetUint64(totalSize))
	return sum.Int64()
}

// ThresholdPrice recovers a price from marginLocked/|size| (the per-unit
// loss a position's locked margin can absorb before liquidation becomes
// eligible). It is RequiredMargin run in reverse, and needs the same
// big.Int pre-multiplication to avoid overflowing int64 on the way.
func ThresholdPrice(marginLocked int64, absSize uint64) int64 {
	if absSize == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(marginLocked), bigSizeScale)
	n.Quo(n, new(big.Int).SetUint64(absSize))
	return n.Int64()
}

// AbsInt64 returns the absolute value of a signed tick quantity as an
// unsigned one.
func AbsInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// SignOf returns +1, -1 or 0.
func SignOf(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
