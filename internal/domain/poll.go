package domain

import (
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// VotingMethod selects the formula turning credits into vote weight.
type VotingMethod string

const (
	MethodQuadratic VotingMethod = "quadratic"
	MethodSimple    VotingMethod = "simple"
	MethodWeighted  VotingMethod = "weighted"
)

// Valid reports whether m is one of the known methods.
func (m VotingMethod) Valid() bool {
	switch m {
	case MethodQuadratic, MethodSimple, MethodWeighted:
		return true
	}
	return false
}

// ParseVotingMethod normalises user input into a VotingMethod.
func ParseVotingMethod(s string) (VotingMethod, error) {
	m := VotingMethod(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
	return m, nil
}

// Poll limits.
const (
	MinOptions      = 2
	MaxOptions      = 10
	MinWeightCap    = 2
	MaxWeightCap    = 20
	MaxQuestionSize = 500
)

// Poll is a multiple-choice proposal. It is immutable after creation; the
// aggregates live with the engine.
type Poll struct {
	ID           string         `json:"id"`
	Creator      common.Address `json:"creator"`
	Question     string         `json:"question"`
	Options      []string       `json:"options"`
	EndTime      time.Time      `json:"end_time"`
	Method       VotingMethod   `json:"method"`
	MethodLocked bool           `json:"method_locked"`
	MaxWeightCap int            `json:"max_weight_cap"`
	CreatedAt    time.Time      `json:"created_at"`
}

// IsActive reports whether the poll accepts votes and trades at now.
func (p Poll) IsActive(now time.Time) bool {
	return now.Before(p.EndTime)
}

// ValidOption reports whether option indexes one of the poll's options.
func (p Poll) ValidOption(option int) bool {
	return option >= 0 && option < len(p.Options)
}

// PollParams are the caller-supplied fields of a new poll.
type PollParams struct {
	Question     string
	Options      []string
	EndTime      time.Time
	Method       VotingMethod
	MethodLocked bool
	MaxWeightCap int
}

// Validate checks the parameters against the poll limits. now is the
// creation time; the end time must lie after it.
func (p PollParams) Validate(now time.Time) error {
	q := strings.TrimSpace(p.Question)
	if q == "" {
		return fmt.Errorf("%w: question must not be empty", ErrInvalidPoll)
	}
	if len(q) > MaxQuestionSize {
		return fmt.Errorf("%w: question longer than %d bytes", ErrInvalidPoll, MaxQuestionSize)
	}
	if len(p.Options) < MinOptions || len(p.Options) > MaxOptions {
		return fmt.Errorf("%w: need %d-%d options, got %d", ErrInvalidPoll, MinOptions, MaxOptions, len(p.Options))
	}
	for i, o := range p.Options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: option %d is empty", ErrInvalidPoll, i)
		}
	}
	if !p.EndTime.After(now) {
		return fmt.Errorf("%w: end time %s is not in the future", ErrInvalidPoll, p.EndTime.Format(time.RFC3339))
	}
	if !p.Method.Valid() {
		return fmt.Errorf("%w: %w %q", ErrInvalidPoll, ErrInvalidMethod, p.Method)
	}
	if p.MaxWeightCap < MinWeightCap || p.MaxWeightCap > MaxWeightCap {
		return fmt.Errorf("%w: max weight cap must be %d-%d, got %d", ErrInvalidPoll, MinWeightCap, MaxWeightCap, p.MaxWeightCap)
	}
	return nil
}

// Vote is a participant's single, immutable vote on a poll.
type Vote struct {
	Option    int            `json:"option"`
	Credits   int64          `json:"credits"`
	Method    VotingMethod   `json:"method"`
	Weight    math.LegacyDec `json:"weight"`
	Timestamp time.Time      `json:"timestamp"`
}

// HasVoted reports whether the vote has been cast; a zero timestamp means it
// has not.
func (v Vote) HasVoted() bool {
	return !v.Timestamp.IsZero()
}

// Results is the aggregate state of a poll. The governance ledger (Weights)
// and the market ledger (Shares) are independent.
type Results struct {
	Weights        []math.LegacyDec `json:"weights"`
	TotalVoters    int              `json:"total_voters"`
	TotalBetAmount math.Int         `json:"total_bet_amount"`
	Shares         []int64          `json:"shares"`
	MarketReserve  math.Int         `json:"market_reserve"`
}

// PollSnapshot is the complete settled state of a poll, as archived. Maps are
// keyed by lower-case hex address.
type PollSnapshot struct {
	Poll          Poll                `json:"poll"`
	Results       Results             `json:"results"`
	Winner        int                 `json:"winner"`
	WinningWeight math.LegacyDec      `json:"winning_weight"`
	Votes         map[string]Vote     `json:"votes"`
	Bets          map[string]math.Int `json:"bets"`
	Payouts       map[string]math.Int `json:"payouts"`
	Claimed       []string            `json:"claimed"`
	Dust          math.Int            `json:"dust"`
	TakenAt       time.Time           `json:"taken_at"`
}
