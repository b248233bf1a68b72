// Package reputation tracks raw participant reputation and derives the
// time-decayed effective score and tier multiplier from it. Decay is a pure
// function of the stored value and elapsed time; nothing rewrites stored
// reputation on a schedule.
package reputation

import (
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// maxDecayPeriods bounds the exponent; any uint64 reputation has decayed to
// zero well before it.
const maxDecayPeriods = 1000

// ReasonVoteCast labels the award earned by casting a vote.
const ReasonVoteCast = "vote_cast"

// Params configures earning and decay.
type Params struct {
	VoteReward  uint64
	DecayPeriod time.Duration
	DecayRate   math.LegacyDec
}

// DefaultParams returns +10 per vote and 5% decay per 30 days of inactivity.
func DefaultParams() Params {
	return Params{
		VoteReward:  10,
		DecayPeriod: 30 * 24 * time.Hour,
		DecayRate:   math.LegacyNewDecWithPrec(5, 2),
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.DecayPeriod <= 0 {
		return fmt.Errorf("reputation: decay period must be positive, got %s", p.DecayPeriod)
	}
	if p.DecayRate.IsNil() || p.DecayRate.IsNegative() || p.DecayRate.GTE(math.LegacyOneDec()) {
		return fmt.Errorf("reputation: decay rate must be in [0,1), got %v", p.DecayRate)
	}
	return nil
}

// EffectiveReputation applies compounding decay: raw * (1-rate)^n where n is
// the number of whole decay periods elapsed since lastActivity.
func EffectiveReputation(raw uint64, lastActivity, now time.Time, p Params) uint64 {
	if raw == 0 || lastActivity.IsZero() || !now.After(lastActivity) || p.DecayPeriod <= 0 {
		return raw
	}
	periods := uint64(now.Sub(lastActivity) / p.DecayPeriod)
	if periods == 0 {
		return raw
	}
	if periods >= maxDecayPeriods {
		return 0
	}
	factor := math.LegacyOneDec().Sub(p.DecayRate).Power(periods)
	return factor.MulInt(math.NewIntFromUint64(raw)).TruncateInt().Uint64()
}

// Ledger is the in-memory reputation table. It is safe for concurrent use.
type Ledger struct {
	params       Params
	participants map[common.Address]domain.Participant
	mu           sync.RWMutex
}

// NewLedger creates an empty Ledger.
func NewLedger(params Params) *Ledger {
	return &Ledger{
		params:       params,
		participants: make(map[common.Address]domain.Participant),
	}
}

// Participant returns the stored record of addr. Unknown addresses read as a
// zero-reputation participant.
func (l *Ledger) Participant(addr common.Address) domain.Participant {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.participantLocked(addr)
}

func (l *Ledger) participantLocked(addr common.Address) domain.Participant {
	p, ok := l.participants[addr]
	if !ok {
		return domain.Participant{Address: addr}
	}
	return p
}

// Effective returns addr's decayed reputation at now.
func (l *Ledger) Effective(addr common.Address, now time.Time) uint64 {
	p := l.Participant(addr)
	return EffectiveReputation(p.Reputation, p.LastActivity, now, l.params)
}

// Tier returns addr's tier at now.
func (l *Ledger) Tier(addr common.Address, now time.Time) Tier {
	return TierFor(l.Effective(addr, now))
}

// Multiplier returns addr's tier multiplier at now.
func (l *Ledger) Multiplier(addr common.Address, now time.Time) math.LegacyDec {
	return l.Tier(addr, now).Multiplier
}

// View assembles the client read model for addr.
func (l *Ledger) View(addr common.Address, now time.Time) domain.ReputationView {
	p := l.Participant(addr)
	eff := EffectiveReputation(p.Reputation, p.LastActivity, now, l.params)
	t := TierFor(eff)
	return domain.ReputationView{
		Address:      addr,
		Raw:          p.Reputation,
		Effective:    eff,
		Multiplier:   t.Multiplier,
		Tier:         t.Label,
		LastActivity: p.LastActivity,
	}
}

// PlanEarn computes the change a vote award would make without applying it.
// The award is added to the raw value and the activity clock restarts at now.
func (l *Ledger) PlanEarn(addr common.Address, now time.Time, reason string) domain.ReputationChange {
	p := l.Participant(addr)
	next := p.Reputation + l.params.VoteReward
	if next < p.Reputation {
		next = ^uint64(0)
	}
	return domain.ReputationChange{
		Address:  addr,
		Previous: p.Reputation,
		Current:  next,
		Reason:   reason,
		At:       now,
	}
}

// Apply stores a change. It is the only mutation of the ledger.
func (l *Ledger) Apply(c domain.ReputationChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.participants[c.Address] = domain.Participant{
		Address:      c.Address,
		Reputation:   c.Current,
		LastActivity: c.At,
	}
}

// Len returns the number of participants with a stored record.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.participants)
}

// Snapshot copies every stored participant record, keyed by address.
func (l *Ledger) Snapshot() map[common.Address]domain.Participant {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[common.Address]domain.Participant, len(l.participants))
	for k, v := range l.participants {
		out[k] = v
	}
	return out
}
