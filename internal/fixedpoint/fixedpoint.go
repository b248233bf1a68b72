// Package fixedpoint holds the 1e18-scaled arithmetic shared by the pricing,
// weighting and settlement code. Fractional values are math.LegacyDec
// (18 decimal places); token amounts are math.Int in base units.
package fixedpoint

import (
	"math/big"

	"cosmossdk.io/math"
)

// Decimals is the number of decimal places of both LegacyDec values and the
// settlement token.
const Decimals = 18

// OneToken is one whole token expressed in base units (1e18).
var OneToken = math.NewIntWithDecimal(1, Decimals)

// Tokens converts a whole-token count into base units.
func Tokens(n int64) math.Int {
	return math.NewInt(n).Mul(OneToken)
}

// Sqrt returns floor(sqrt(n)) at 1e18 scale. Perfect squares are exact.
func Sqrt(n int64) math.LegacyDec {
	if n <= 0 {
		return math.LegacyZeroDec()
	}
	// sqrt(n * 1e36) = sqrt(n) * 1e18
	scaled := new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(2*Decimals), nil))
	return math.LegacyNewDecFromBigIntWithPrec(scaled.Sqrt(scaled), Decimals)
}

// ToBaseUnitsCeil converts a token-denominated price into base units,
// rounding up.
func ToBaseUnitsCeil(d math.LegacyDec) math.Int {
	return d.MulInt(OneToken).Ceil().TruncateInt()
}

// ToBaseUnitsFloor converts a token-denominated price into base units,
// rounding down.
func ToBaseUnitsFloor(d math.LegacyDec) math.Int {
	return d.MulInt(OneToken).TruncateInt()
}

// Raw returns the underlying scaled integer of d as a decimal string, the
// representation exposed to clients.
func Raw(d math.LegacyDec) string {
	if d.IsNil() {
		return "0"
	}
	return d.BigInt().String()
}

// Raws maps Raw over a slice.
func Raws(ds []math.LegacyDec) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = Raw(d)
	}
	return out
}

// MustDec parses a decimal string and panics on malformed input. Intended for
// package-level constants only.
func MustDec(s string) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(s)
}
