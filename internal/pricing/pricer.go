// Package pricing implements the outcome-share bonding curve and the
// reputation-dependent markup applied on top of it.
package pricing

import (
	"errors"
	"fmt"

	"cosmossdk.io/math"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
)

// Params configures the curve. Prices are denominated in whole tokens.
type Params struct {
	BasePrice        math.LegacyDec
	Slope            math.LegacyDec
	VirtualLiquidity int64
	MinAdjustedPrice math.LegacyDec
	MaxTradeShares   int64
}

// DefaultParams returns a 0.1 token base price rising with an option's share
// of a market padded by 100 virtual shares.
func DefaultParams() Params {
	return Params{
		BasePrice:        math.LegacyNewDecWithPrec(1, 1),
		Slope:            math.LegacyOneDec(),
		VirtualLiquidity: 100,
		MinAdjustedPrice: math.LegacyNewDecWithPrec(1, 6),
		MaxTradeShares:   1000,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	var errs []error
	if p.BasePrice.IsNil() || !p.BasePrice.IsPositive() {
		errs = append(errs, errors.New("base price must be positive"))
	}
	if p.Slope.IsNil() || p.Slope.IsNegative() {
		errs = append(errs, errors.New("slope must not be negative"))
	}
	if p.VirtualLiquidity <= 0 {
		errs = append(errs, errors.New("virtual liquidity must be positive"))
	}
	if p.MinAdjustedPrice.IsNil() || p.MinAdjustedPrice.IsNegative() {
		errs = append(errs, errors.New("min adjusted price must not be negative"))
	}
	if p.MaxTradeShares <= 0 {
		errs = append(errs, errors.New("max trade shares must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("pricing: %w", errors.Join(errs...))
	}
	return nil
}

// Adjustment thresholds and factors, highest band first.
var adjustments = []struct {
	min    math.LegacyDec
	factor math.LegacyDec
}{
	{math.LegacyNewDecWithPrec(25, 1), math.LegacyNewDecWithPrec(67, 2)},
	{math.LegacyNewDecWithPrec(15, 1), math.LegacyNewDecWithPrec(83, 2)},
	{math.LegacyNewDecWithPrec(9, 1), math.LegacyOneDec()},
	{math.LegacyNewDecWithPrec(5, 1), math.LegacyNewDec(2)},
}

// lowReputationMarkup applies below the last band.
var lowReputationMarkup = math.LegacyNewDec(10)

// Adjustment maps a tier multiplier to the factor applied to the base price.
// A missing or non-positive multiplier yields 1.
func Adjustment(multiplier math.LegacyDec) math.LegacyDec {
	if multiplier.IsNil() || !multiplier.IsPositive() {
		return math.LegacyOneDec()
	}
	for _, a := range adjustments {
		if multiplier.GTE(a.min) {
			return a.factor
		}
	}
	return lowReputationMarkup
}

// Pricer evaluates the curve.
type Pricer struct {
	params Params
}

// New creates a Pricer.
func New(params Params) *Pricer {
	return &Pricer{params: params}
}

// Params returns the configured parameters.
func (p *Pricer) Params() Params { return p.params }

func total(shares []int64) int64 {
	var s int64
	for _, v := range shares {
		s += v
	}
	return s
}

// basePriceAt prices one share of an option holding optionShares when the
// whole market holds totalShares.
func (p *Pricer) basePriceAt(optionShares, totalShares int64) math.LegacyDec {
	depth := math.LegacyNewDec(totalShares + p.params.VirtualLiquidity)
	ratio := math.LegacyNewDec(optionShares).Quo(depth)
	return p.params.BasePrice.Mul(math.LegacyOneDec().Add(p.params.Slope.Mul(ratio)))
}

// BasePrice is the unadjusted price of the next share of option.
func (p *Pricer) BasePrice(shares []int64, option int) math.LegacyDec {
	return p.basePriceAt(shares[option], total(shares))
}

// AdjustedPrice applies the reputation factor to base, falling back to base
// when the result would drop below the configured floor.
func (p *Pricer) AdjustedPrice(base, multiplier math.LegacyDec) math.LegacyDec {
	if multiplier.IsNil() || !multiplier.IsPositive() {
		return base
	}
	adj := base.Mul(Adjustment(multiplier))
	if adj.LT(p.params.MinAdjustedPrice) {
		return base
	}
	return adj
}

// Prices returns the base price of every option.
func (p *Pricer) Prices(shares []int64) []math.LegacyDec {
	out := make([]math.LegacyDec, len(shares))
	for i := range shares {
		out[i] = p.BasePrice(shares, i)
	}
	return out
}

// AdjustedPrices returns every option's price as seen by a trader with the
// given multiplier.
func (p *Pricer) AdjustedPrices(shares []int64, multiplier math.LegacyDec) []math.LegacyDec {
	out := make([]math.LegacyDec, len(shares))
	for i := range shares {
		out[i] = p.AdjustedPrice(p.BasePrice(shares, i), multiplier)
	}
	return out
}

func (p *Pricer) checkTrade(shares []int64, option int, amount int64) error {
	if option < 0 || option >= len(shares) {
		return fmt.Errorf("%w: %d", domain.ErrInvalidOption, option)
	}
	if amount <= 0 || amount > p.params.MaxTradeShares {
		return fmt.Errorf("%w: %d not in [1,%d]", domain.ErrInvalidAmount, amount, p.params.MaxTradeShares)
	}
	return nil
}

// BuyCost is the token cost in base units of buying amount shares of option.
// Every share is priced at the curve position it is bought at, rounded up.
func (p *Pricer) BuyCost(shares []int64, option int, amount int64, multiplier math.LegacyDec) (math.Int, error) {
	if err := p.checkTrade(shares, option, amount); err != nil {
		return math.Int{}, err
	}
	s, tot := shares[option], total(shares)
	cost := math.ZeroInt()
	for j := int64(0); j < amount; j++ {
		price := p.AdjustedPrice(p.basePriceAt(s+j, tot+j), multiplier)
		cost = cost.Add(fixedpoint.ToBaseUnitsCeil(price))
	}
	return cost, nil
}

// SellProceeds is the token amount in base units paid for selling amount
// shares of option. Each share walks the curve back down and is paid the
// lower of the base and adjusted price, rounded down.
func (p *Pricer) SellProceeds(shares []int64, option int, amount int64, multiplier math.LegacyDec) (math.Int, error) {
	if err := p.checkTrade(shares, option, amount); err != nil {
		return math.Int{}, err
	}
	s, tot := shares[option], total(shares)
	if amount > s {
		return math.Int{}, fmt.Errorf("%w: option %d holds %d shares, selling %d", domain.ErrInsufficientShares, option, s, amount)
	}
	proceeds := math.ZeroInt()
	for j := int64(1); j <= amount; j++ {
		base := p.basePriceAt(s-j, tot-j)
		price := math.LegacyMinDec(base, p.AdjustedPrice(base, multiplier))
		proceeds = proceeds.Add(fixedpoint.ToBaseUnitsFloor(price))
	}
	return proceeds, nil
}
