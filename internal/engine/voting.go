package engine

import (
	"context"
	"fmt"
	"strings"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
	"github.com/alanyoungcy/quadpoll/internal/reputation"
	"github.com/alanyoungcy/quadpoll/internal/weight"
)

// CreatePoll validates params and opens a new poll.
func (e *Engine) CreatePoll(ctx context.Context, creator common.Address, params domain.PollParams) (domain.Delta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := params.Validate(now); err != nil {
		return domain.Delta{}, err
	}

	options := make([]string, len(params.Options))
	for i, o := range params.Options {
		options[i] = strings.TrimSpace(o)
	}
	poll := domain.Poll{
		ID:           e.newID(),
		Creator:      creator,
		Question:     strings.TrimSpace(params.Question),
		Options:      options,
		EndTime:      params.EndTime.UTC(),
		Method:       params.Method,
		MethodLocked: params.MethodLocked,
		MaxWeightCap: params.MaxWeightCap,
		CreatedAt:    now,
	}
	d := domain.Delta{
		ID:     e.newID(),
		Kind:   domain.DeltaPollCreated,
		PollID: poll.ID,
		Actor:  creator,
		At:     now,
		Poll:   &poll,
	}
	if err := e.commit(ctx, d, nil); err != nil {
		return domain.Delta{}, err
	}
	return d, nil
}

// Vote casts voter's single vote on pollID. The weight is computed with the
// voter's multiplier at call time and clamped to the poll's cap; credits
// whole tokens move from the voter into the prize pool.
func (e *Engine) Vote(ctx context.Context, voter common.Address, pollID string, option int, credits int64, method domain.VotingMethod) (domain.Delta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.lookup(pollID)
	if err != nil {
		return domain.Delta{}, err
	}
	now := e.now()
	if !s.poll.IsActive(now) {
		return domain.Delta{}, fmt.Errorf("%w: %s ended at %s", domain.ErrPollClosed, pollID, s.poll.EndTime)
	}
	if _, voted := s.votes[voter]; voted {
		return domain.Delta{}, fmt.Errorf("%w: %s on %s", domain.ErrAlreadyVoted, voter.Hex(), pollID)
	}
	if !s.poll.ValidOption(option) {
		return domain.Delta{}, fmt.Errorf("%w: %d", domain.ErrInvalidOption, option)
	}
	if credits < weight.MinCredits || credits > weight.MaxCredits {
		return domain.Delta{}, fmt.Errorf("%w: %d not in [%d,%d]", domain.ErrInvalidCredits, credits, weight.MinCredits, weight.MaxCredits)
	}
	resolved, err := weight.Resolve(s.poll, method)
	if err != nil {
		return domain.Delta{}, err
	}
	w, err := weight.Capped(credits, e.rep.Multiplier(voter, now), resolved, s.poll.MaxWeightCap)
	if err != nil {
		return domain.Delta{}, err
	}

	amount := fixedpoint.Tokens(credits)
	if err := e.checkFunds(ctx, voter, amount); err != nil {
		return domain.Delta{}, err
	}

	change := e.rep.PlanEarn(voter, now, reputation.ReasonVoteCast)
	d := domain.Delta{
		ID:     e.newID(),
		Kind:   domain.DeltaVoteCast,
		PollID: pollID,
		Actor:  voter,
		At:     now,
		Vote: &domain.Vote{
			Option:    option,
			Credits:   credits,
			Method:    resolved,
			Weight:    w,
			Timestamp: now,
		},
		Amount:     &amount,
		Reputation: &change,
	}
	err = e.commit(ctx, d, func(ctx context.Context) error {
		return e.tokens.TransferFrom(ctx, e.escrow, voter, e.escrow, amount)
	})
	if err != nil {
		return domain.Delta{}, err
	}
	return d, nil
}

// checkFunds verifies owner can pay amount to the escrow.
func (e *Engine) checkFunds(ctx context.Context, owner common.Address, amount math.Int) error {
	bal, err := e.tokens.BalanceOf(ctx, owner)
	if err != nil {
		return fmt.Errorf("engine: balance of %s: %w", owner.Hex(), err)
	}
	if bal.LT(amount) {
		return fmt.Errorf("%w: have %s, need %s", domain.ErrInsufficientBalance, bal, amount)
	}
	allowance, err := e.tokens.Allowance(ctx, owner, e.escrow)
	if err != nil {
		return fmt.Errorf("engine: allowance of %s: %w", owner.Hex(), err)
	}
	if allowance.LT(amount) {
		return fmt.Errorf("%w: approved %s, need %s", domain.ErrInsufficientAllowance, allowance, amount)
	}
	return nil
}
