package engine

import (
	"sort"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/settlement"
)

// Poll returns the poll with id.
func (e *Engine) Poll(id string) (domain.Poll, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return domain.Poll{}, err
	}
	return s.poll, nil
}

// Polls returns every poll in creation order.
func (e *Engine) Polls() []domain.Poll {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Poll, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.polls[id].poll)
	}
	return out
}

// Ended returns the polls that no longer accept votes at the engine clock.
func (e *Engine) Ended() []domain.Poll {
	now := e.now()
	var out []domain.Poll
	for _, p := range e.Polls() {
		if !p.IsActive(now) {
			out = append(out, p)
		}
	}
	return out
}

// Now returns the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// IsActive reports whether id accepts votes and trades right now.
func (e *Engine) IsActive(id string) (bool, error) {
	p, err := e.Poll(id)
	if err != nil {
		return false, err
	}
	return p.IsActive(e.now()), nil
}

// EndTime returns id's closing time.
func (e *Engine) EndTime(id string) (time.Time, error) {
	p, err := e.Poll(id)
	if err != nil {
		return time.Time{}, err
	}
	return p.EndTime, nil
}

// Results returns a copy of id's aggregates.
func (e *Engine) Results(id string) (domain.Results, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return domain.Results{}, err
	}
	return s.results(), nil
}

func (s *pollState) results() domain.Results {
	return domain.Results{
		Weights:        append([]math.LegacyDec(nil), s.weights...),
		TotalVoters:    s.voters,
		TotalBetAmount: s.pool,
		Shares:         append([]int64(nil), s.shares...),
		MarketReserve:  s.reserve,
	}
}

// TotalBetAmount returns id's prize pool.
func (e *Engine) TotalBetAmount(id string) (math.Int, error) {
	r, err := e.Results(id)
	if err != nil {
		return math.Int{}, err
	}
	return r.TotalBetAmount, nil
}

// Prices returns the unadjusted price of every option of id.
func (e *Engine) Prices(id string) ([]math.LegacyDec, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.pricer.Prices(s.shares), nil
}

// AdjustedPrices returns every option's price as addr would pay it now.
func (e *Engine) AdjustedPrices(id string, addr common.Address) ([]math.LegacyDec, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.pricer.AdjustedPrices(s.shares, e.rep.Multiplier(addr, e.now())), nil
}

// UserShares returns addr's shares per option of id.
func (e *Engine) UserShares(id string, addr common.Address) ([]int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]int64(nil), s.position(addr)...), nil
}

// VoteOf returns addr's vote on id; the zero Vote when addr has not voted.
func (e *Engine) VoteOf(id string, addr common.Address) (domain.Vote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return domain.Vote{}, err
	}
	return s.votes[addr], nil
}

// HasClaimed reports whether addr has claimed winnings on id.
func (e *Engine) HasClaimed(id string, addr common.Address) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return false, err
	}
	return s.claimed[addr], nil
}

// UserBet returns the tokens addr contributed to id's prize pool.
func (e *Engine) UserBet(id string, addr common.Address) (math.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return math.Int{}, err
	}
	return s.bet(addr), nil
}

// Winner returns id's leading option and its weight. It is meaningful before
// the poll ends as the current leader.
func (e *Engine) Winner(id string) (int, math.LegacyDec, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return 0, math.LegacyDec{}, err
	}
	idx, w := settlement.Winner(s.weights)
	return idx, w, nil
}

// Position collects everything addr holds in id.
func (e *Engine) Position(id string, addr common.Address) (domain.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return domain.Position{}, err
	}
	v, voted := s.votes[addr]
	return domain.Position{
		PollID:     id,
		Address:    addr,
		Vote:       v,
		HasVoted:   voted,
		Bet:        s.bet(addr),
		HasClaimed: s.claimed[addr],
		Shares:     append([]int64(nil), s.position(addr)...),
	}, nil
}

// Reputation returns addr's reputation read model at the engine clock.
func (e *Engine) Reputation(addr common.Address) domain.ReputationView {
	return e.rep.View(addr, e.now())
}

// Snapshot captures id's full state with each winner's entitlement.
func (e *Engine) Snapshot(id string) (domain.PollSnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, err := e.lookup(id)
	if err != nil {
		return domain.PollSnapshot{}, err
	}
	winner, winningWeight := settlement.Winner(s.weights)

	votes := make(map[string]domain.Vote, len(s.votes))
	winners := make(map[string]math.LegacyDec)
	for addr, v := range s.votes {
		key := strings.ToLower(addr.Hex())
		votes[key] = v
		if v.Option == winner {
			winners[key] = v.Weight
		}
	}
	bets := make(map[string]math.Int, len(s.bets))
	for addr, b := range s.bets {
		bets[strings.ToLower(addr.Hex())] = b
	}
	payouts, dust := settlement.Distribute(s.pool, winners, winningWeight)
	claimed := make([]string, 0, len(s.claimed))
	for addr := range s.claimed {
		claimed = append(claimed, strings.ToLower(addr.Hex()))
	}
	sort.Strings(claimed)

	return domain.PollSnapshot{
		Poll:          s.poll,
		Results:       s.results(),
		Winner:        winner,
		WinningWeight: winningWeight,
		Votes:         votes,
		Bets:          bets,
		Payouts:       payouts,
		Claimed:       claimed,
		Dust:          dust,
		TakenAt:       e.now(),
	}, nil
}
