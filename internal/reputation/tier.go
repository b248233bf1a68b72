package reputation

import "cosmossdk.io/math"

// Tier is the discrete band an effective reputation falls into.
type Tier struct {
	Label      string
	Min        uint64
	Multiplier math.LegacyDec
}

// FloorMultiplier applies to every participant below the first band,
// including brand-new zero-reputation accounts.
var FloorMultiplier = math.LegacyNewDecWithPrec(3, 1)

// tiers is ordered by Min descending; bands are closed on the lower bound.
var tiers = []Tier{
	{Label: "Elite", Min: 1000, Multiplier: math.LegacyNewDec(3)},
	{Label: "Veteran", Min: 500, Multiplier: math.LegacyNewDec(2)},
	{Label: "Trusted", Min: 100, Multiplier: math.LegacyNewDecWithPrec(15, 1)},
	{Label: "Member", Min: 50, Multiplier: math.LegacyOneDec()},
	{Label: "Novice", Min: 10, Multiplier: math.LegacyNewDecWithPrec(5, 1)},
	{Label: "Unverified", Min: 0, Multiplier: FloorMultiplier},
}

// TierFor returns the tier of an effective reputation.
func TierFor(effective uint64) Tier {
	for _, t := range tiers {
		if effective >= t.Min {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// Multiplier is shorthand for TierFor(effective).Multiplier.
func Multiplier(effective uint64) math.LegacyDec {
	return TierFor(effective).Multiplier
}
