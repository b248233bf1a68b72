package domain

import "cosmossdk.io/math"

// TradeSide distinguishes share purchases from redemptions.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is one committed buy or sell of outcome shares. Value is the token
// amount debited (buy) or credited (sell) in base units.
type Trade struct {
	Side   TradeSide `json:"side"`
	Option int       `json:"option"`
	Shares int64     `json:"shares"`
	Value  math.Int  `json:"value"`
}

// Claim is a committed prize-pool withdrawal.
type Claim struct {
	Option int      `json:"option"`
	Payout math.Int `json:"payout"`
}
