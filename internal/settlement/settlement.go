// Package settlement holds the pure prize-pool math: winner selection and
// proportional payouts.
package settlement

import (
	"cosmossdk.io/math"
)

// Winner returns the index of the heaviest option and its weight. Ties go to
// the lowest index; with no weight at all option 0 wins with zero weight.
func Winner(weights []math.LegacyDec) (int, math.LegacyDec) {
	best, bestWeight := 0, math.LegacyZeroDec()
	for i, w := range weights {
		if w.IsNil() {
			continue
		}
		if w.GT(bestWeight) {
			best, bestWeight = i, w
		}
	}
	return best, bestWeight
}

// Payout is floor(pool * weight / winningTotal) in base units, computed on
// the raw 1e18-scaled integers so no precision is lost before the division.
// It returns zero when winningTotal is zero.
func Payout(pool math.Int, weight, winningTotal math.LegacyDec) math.Int {
	if pool.IsNil() || weight.IsNil() || winningTotal.IsNil() || !winningTotal.IsPositive() || !weight.IsPositive() {
		return math.ZeroInt()
	}
	num := pool.Mul(math.NewIntFromBigInt(weight.BigInt()))
	return num.Quo(math.NewIntFromBigInt(winningTotal.BigInt()))
}

// Distribute computes every winner's payout. The sum never exceeds pool;
// the undistributed remainder is the rounding dust.
func Distribute(pool math.Int, weights map[string]math.LegacyDec, winningTotal math.LegacyDec) (map[string]math.Int, math.Int) {
	out := make(map[string]math.Int, len(weights))
	paid := math.ZeroInt()
	for k, w := range weights {
		p := Payout(pool, w, winningTotal)
		out[k] = p
		paid = paid.Add(p)
	}
	return out, pool.Sub(paid)
}
