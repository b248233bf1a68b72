package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/settlement"
)

// Claim pays claimant's share of an ended poll's prize pool: the pool times
// the claimant's weight over the winning option's total weight, rounded down.
func (e *Engine) Claim(ctx context.Context, claimant common.Address, pollID string) (domain.Delta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.lookup(pollID)
	if err != nil {
		return domain.Delta{}, err
	}
	now := e.now()
	if s.poll.IsActive(now) {
		return domain.Delta{}, fmt.Errorf("%w: %s ends at %s", domain.ErrPollActive, pollID, s.poll.EndTime)
	}
	if s.claimed[claimant] {
		return domain.Delta{}, fmt.Errorf("%w: %s on %s", domain.ErrAlreadyClaimed, claimant.Hex(), pollID)
	}
	vote, voted := s.votes[claimant]
	winner, winningWeight := settlement.Winner(s.weights)
	if !voted || vote.Option != winner {
		return domain.Delta{}, fmt.Errorf("%w: winning option is %d", domain.ErrNotAWinner, winner)
	}
	payout := settlement.Payout(s.pool, vote.Weight, winningWeight)
	if !payout.IsPositive() {
		return domain.Delta{}, fmt.Errorf("%w: %s on %s", domain.ErrNothingToClaim, claimant.Hex(), pollID)
	}

	d := domain.Delta{
		ID:     e.newID(),
		Kind:   domain.DeltaWinningsClaimed,
		PollID: pollID,
		Actor:  claimant,
		At:     now,
		Claim:  &domain.Claim{Option: winner, Payout: payout},
	}

	s.claimed[claimant] = true
	err = e.commit(ctx, d, func(ctx context.Context) error {
		return e.tokens.Transfer(ctx, e.escrow, claimant, payout)
	})
	if err != nil {
		delete(s.claimed, claimant)
		return domain.Delta{}, err
	}
	return d, nil
}
