// Package weight turns voting credits and a reputation multiplier into vote
// weight under the three supported voting methods.
package weight

import (
	"fmt"

	"cosmossdk.io/math"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
	"github.com/alanyoungcy/quadpoll/internal/reputation"
)

// Credit bounds of a single vote.
const (
	MinCredits = 1
	MaxCredits = 100
)

// weightedBonus is the extra factor of the weighted method.
var weightedBonus = math.LegacyNewDecWithPrec(15, 1)

// Compute returns the weight of spending credits under method for a voter
// with the given tier multiplier.
func Compute(credits int64, multiplier math.LegacyDec, method domain.VotingMethod) (math.LegacyDec, error) {
	if credits < MinCredits || credits > MaxCredits {
		return math.LegacyDec{}, fmt.Errorf("%w: %d not in [%d,%d]", domain.ErrInvalidCredits, credits, MinCredits, MaxCredits)
	}
	if multiplier.IsNil() || !multiplier.IsPositive() {
		return math.LegacyDec{}, fmt.Errorf("weight: multiplier must be positive")
	}
	switch method {
	case domain.MethodQuadratic:
		return fixedpoint.Sqrt(credits).Mul(multiplier), nil
	case domain.MethodSimple:
		return multiplier.MulInt64(credits), nil
	case domain.MethodWeighted:
		return multiplier.MulInt64(credits).Mul(weightedBonus), nil
	default:
		return math.LegacyDec{}, fmt.Errorf("%w: %q", domain.ErrInvalidMethod, method)
	}
}

// Minimum is the smallest weight any vote can carry under method: one credit
// at the floor multiplier.
func Minimum(method domain.VotingMethod) (math.LegacyDec, error) {
	return Compute(MinCredits, reputation.FloorMultiplier, method)
}

// Cap returns the largest weight a single vote may add to a poll with the
// given maxWeightCap, expressed as a multiple of the minimum weight.
func Cap(maxWeightCap int, method domain.VotingMethod) (math.LegacyDec, error) {
	if maxWeightCap < domain.MinWeightCap || maxWeightCap > domain.MaxWeightCap {
		return math.LegacyDec{}, fmt.Errorf("%w: max weight cap %d", domain.ErrInvalidPoll, maxWeightCap)
	}
	lo, err := Minimum(method)
	if err != nil {
		return math.LegacyDec{}, err
	}
	return lo.MulInt64(int64(maxWeightCap)), nil
}

// Clamp bounds w by limit.
func Clamp(w, limit math.LegacyDec) math.LegacyDec {
	return math.LegacyMinDec(w, limit)
}

// Capped is Compute followed by Clamp against the poll's cap.
func Capped(credits int64, multiplier math.LegacyDec, method domain.VotingMethod, maxWeightCap int) (math.LegacyDec, error) {
	w, err := Compute(credits, multiplier, method)
	if err != nil {
		return math.LegacyDec{}, err
	}
	limit, err := Cap(maxWeightCap, method)
	if err != nil {
		return math.LegacyDec{}, err
	}
	return Clamp(w, limit), nil
}

// Resolve picks the method a vote is weighed with. An empty choice means the
// poll's method; a locked poll rejects any other.
func Resolve(poll domain.Poll, chosen domain.VotingMethod) (domain.VotingMethod, error) {
	if chosen == "" {
		return poll.Method, nil
	}
	if !chosen.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidMethod, chosen)
	}
	if poll.MethodLocked && chosen != poll.Method {
		return "", fmt.Errorf("%w: poll requires %s, got %s", domain.ErrMethodMismatch, poll.Method, chosen)
	}
	return chosen, nil
}
