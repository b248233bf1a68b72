package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// activePoll returns pollID's state if it still accepts trades. Callers hold
// e.mu.
func (e *Engine) activePoll(pollID string) (*pollState, error) {
	s, err := e.lookup(pollID)
	if err != nil {
		return nil, err
	}
	if !s.poll.IsActive(e.now()) {
		return nil, fmt.Errorf("%w: %s ended at %s", domain.ErrPollClosed, pollID, s.poll.EndTime)
	}
	return s, nil
}

// Buy purchases amount shares of option for trader at the trader's adjusted
// price. The cost is pulled into the poll's market reserve.
func (e *Engine) Buy(ctx context.Context, trader common.Address, pollID string, option int, amount int64) (domain.Delta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.activePoll(pollID)
	if err != nil {
		return domain.Delta{}, err
	}
	now := e.now()
	cost, err := e.pricer.BuyCost(s.shares, option, amount, e.rep.Multiplier(trader, now))
	if err != nil {
		return domain.Delta{}, err
	}
	if err := e.checkFunds(ctx, trader, cost); err != nil {
		return domain.Delta{}, err
	}

	d := domain.Delta{
		ID:     e.newID(),
		Kind:   domain.DeltaSharesBought,
		PollID: pollID,
		Actor:  trader,
		At:     now,
		Trade: &domain.Trade{
			Side:   domain.TradeSideBuy,
			Option: option,
			Shares: amount,
			Value:  cost,
		},
	}
	err = e.commit(ctx, d, func(ctx context.Context) error {
		return e.tokens.TransferFrom(ctx, e.escrow, trader, e.escrow, cost)
	})
	if err != nil {
		return domain.Delta{}, err
	}
	return d, nil
}

// Sell redeems amount of trader's shares of option against the market
// reserve.
func (e *Engine) Sell(ctx context.Context, trader common.Address, pollID string, option int, amount int64) (domain.Delta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.activePoll(pollID)
	if err != nil {
		return domain.Delta{}, err
	}
	if !s.poll.ValidOption(option) {
		return domain.Delta{}, fmt.Errorf("%w: %d", domain.ErrInvalidOption, option)
	}
	if held := s.position(trader)[option]; amount > 0 && held < amount {
		return domain.Delta{}, fmt.Errorf("%w: hold %d of option %d, selling %d", domain.ErrInsufficientShares, held, option, amount)
	}
	now := e.now()
	proceeds, err := e.pricer.SellProceeds(s.shares, option, amount, e.rep.Multiplier(trader, now))
	if err != nil {
		return domain.Delta{}, err
	}
	if proceeds.GT(s.reserve) {
		return domain.Delta{}, fmt.Errorf("%w: proceeds %s exceed reserve %s", domain.ErrInsufficientLiquidity, proceeds, s.reserve)
	}

	d := domain.Delta{
		ID:     e.newID(),
		Kind:   domain.DeltaSharesSold,
		PollID: pollID,
		Actor:  trader,
		At:     now,
		Trade: &domain.Trade{
			Side:   domain.TradeSideSell,
			Option: option,
			Shares: amount,
			Value:  proceeds,
		},
	}
	var move func(context.Context) error
	if proceeds.IsPositive() {
		move = func(ctx context.Context) error {
			return e.tokens.Transfer(ctx, e.escrow, trader, proceeds)
		}
	}
	if err := e.commit(ctx, d, move); err != nil {
		return domain.Delta{}, err
	}
	return d, nil
}
