// Package engine is the poll state machine. It owns every poll's aggregates,
// the reputation ledger and the market ledger, and moves tokens through the
// TokenLedger collaborator. All writes are serialized by one lock; every
// committed transition is described by a domain.Delta. Transitions that move
// tokens are journaled as pending, then confirmed by a commit marker once the
// movement succeeds.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/pricing"
	"github.com/alanyoungcy/quadpoll/internal/reputation"
)

// Engine is safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	polls  map[string]*pollState
	order  []string
	rep    *reputation.Ledger
	pricer *pricing.Pricer

	tokens   domain.TokenLedger
	escrow   common.Address
	recorder domain.Recorder

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRecorder sets the journal.
func WithRecorder(r domain.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPricing overrides the bonding-curve parameters.
func WithPricing(p pricing.Params) Option {
	return func(e *Engine) { e.pricer = pricing.New(p) }
}

// WithReputation overrides the earning and decay parameters.
func WithReputation(p reputation.Params) Option {
	return func(e *Engine) { e.rep = reputation.NewLedger(p) }
}

// WithIDGenerator replaces the uuid generator for poll and delta IDs.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New creates an Engine. escrow is the account that holds prize pools and
// market reserves; participants approve it as spender.
func New(tokens domain.TokenLedger, escrow common.Address, opts ...Option) *Engine {
	e := &Engine{
		polls:  make(map[string]*pollState),
		rep:    reputation.NewLedger(reputation.DefaultParams()),
		pricer: pricing.New(pricing.DefaultParams()),
		tokens: tokens,
		escrow: escrow,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Escrow returns the escrow account.
func (e *Engine) Escrow() common.Address { return e.escrow }

// pollState holds a poll and its aggregates. Weights and Shares are separate
// ledgers: votes never touch shares and trades never touch weights.
type pollState struct {
	poll      domain.Poll
	weights   []math.LegacyDec
	voters    int
	pool      math.Int
	shares    []int64
	reserve   math.Int
	votes     map[common.Address]domain.Vote
	bets      map[common.Address]math.Int
	positions map[common.Address][]int64
	claimed   map[common.Address]bool
}

func newPollState(p domain.Poll) *pollState {
	weights := make([]math.LegacyDec, len(p.Options))
	for i := range weights {
		weights[i] = math.LegacyZeroDec()
	}
	return &pollState{
		poll:      p,
		weights:   weights,
		pool:      math.ZeroInt(),
		shares:    make([]int64, len(p.Options)),
		reserve:   math.ZeroInt(),
		votes:     make(map[common.Address]domain.Vote),
		bets:      make(map[common.Address]math.Int),
		positions: make(map[common.Address][]int64),
		claimed:   make(map[common.Address]bool),
	}
}

func (s *pollState) position(addr common.Address) []int64 {
	pos, ok := s.positions[addr]
	if !ok {
		return make([]int64, len(s.poll.Options))
	}
	return pos
}

func (s *pollState) bet(addr common.Address) math.Int {
	b, ok := s.bets[addr]
	if !ok {
		return math.ZeroInt()
	}
	return b
}

// lookup returns the state of id. Callers hold e.mu.
func (e *Engine) lookup(id string) (*pollState, error) {
	s, ok := e.polls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPollNotFound, id)
	}
	return s, nil
}

// commit journals d, runs the token movement and applies d. With a movement
// d is recorded as pending and confirmed by a committed marker after the
// movement succeeds, so Replay never applies a delta whose tokens did not
// move. Callers hold e.mu for writing.
func (e *Engine) commit(ctx context.Context, d domain.Delta, move func(context.Context) error) error {
	if move == nil {
		if e.recorder != nil {
			if err := e.recorder.Record(ctx, d); err != nil {
				return fmt.Errorf("engine: record %s: %w", d.Kind, err)
			}
		}
		return e.applyCommitted(ctx, d)
	}

	if e.recorder != nil {
		pending := d
		pending.Pending = true
		if err := e.recorder.Record(ctx, pending); err != nil {
			return fmt.Errorf("engine: record %s: %w", d.Kind, err)
		}
	}
	if err := move(ctx); err != nil {
		e.revert(ctx, d, err)
		return err
	}
	if e.recorder != nil {
		marker := domain.Delta{
			ID:      e.newID(),
			Kind:    domain.DeltaCommitted,
			PollID:  d.PollID,
			Actor:   d.Actor,
			At:      d.At,
			Commits: d.ID,
		}
		if err := e.recorder.Record(ctx, marker); err != nil {
			// Replay skips the unconfirmed delta, so live state skips it too.
			e.logger.ErrorContext(ctx, "engine: tokens moved but commit not journaled",
				slog.String("delta_id", d.ID),
				slog.String("kind", string(d.Kind)),
				slog.String("poll_id", d.PollID),
				slog.String("actor", d.Actor.Hex()),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("engine: record commit of %s: %w", d.Kind, err)
		}
	}
	return e.applyCommitted(ctx, d)
}

func (e *Engine) applyCommitted(ctx context.Context, d domain.Delta) error {
	if err := e.apply(d); err != nil {
		return fmt.Errorf("engine: apply %s: %w", d.Kind, err)
	}
	e.logger.DebugContext(ctx, "engine: delta committed",
		slog.String("delta_id", d.ID),
		slog.String("kind", string(d.Kind)),
		slog.String("poll_id", d.PollID),
	)
	return nil
}

// revert records that d's movement failed. Replay skips d with or without
// the marker.
func (e *Engine) revert(ctx context.Context, d domain.Delta, cause error) {
	e.logger.WarnContext(ctx, "engine: token movement failed",
		slog.String("delta_id", d.ID),
		slog.String("kind", string(d.Kind)),
		slog.String("poll_id", d.PollID),
		slog.String("error", cause.Error()),
	)
	if e.recorder == nil {
		return
	}
	rev := domain.Delta{
		ID:      e.newID(),
		Kind:    domain.DeltaReverted,
		PollID:  d.PollID,
		Actor:   d.Actor,
		At:      d.At,
		Reverts: d.ID,
	}
	if err := e.recorder.Record(ctx, rev); err != nil {
		e.logger.WarnContext(ctx, "engine: record revert failed",
			slog.String("delta_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

// apply mutates state according to d. It performs no validation beyond
// structural checks; deltas are validated before they are committed.
func (e *Engine) apply(d domain.Delta) error {
	switch d.Kind {
	case domain.DeltaPollCreated:
		if d.Poll == nil {
			return fmt.Errorf("delta %s has no poll", d.ID)
		}
		if _, exists := e.polls[d.Poll.ID]; exists {
			return fmt.Errorf("poll %s already exists", d.Poll.ID)
		}
		e.polls[d.Poll.ID] = newPollState(*d.Poll)
		e.order = append(e.order, d.Poll.ID)

	case domain.DeltaVoteCast:
		s, err := e.lookup(d.PollID)
		if err != nil {
			return err
		}
		if d.Vote == nil || d.Amount == nil {
			return fmt.Errorf("delta %s is missing its vote", d.ID)
		}
		if !s.poll.ValidOption(d.Vote.Option) {
			return fmt.Errorf("%w: %d", domain.ErrInvalidOption, d.Vote.Option)
		}
		s.votes[d.Actor] = *d.Vote
		s.weights[d.Vote.Option] = s.weights[d.Vote.Option].Add(d.Vote.Weight)
		s.voters++
		s.pool = s.pool.Add(*d.Amount)
		s.bets[d.Actor] = s.bet(d.Actor).Add(*d.Amount)
		if d.Reputation != nil {
			e.rep.Apply(*d.Reputation)
		}

	case domain.DeltaSharesBought, domain.DeltaSharesSold:
		s, err := e.lookup(d.PollID)
		if err != nil {
			return err
		}
		if d.Trade == nil {
			return fmt.Errorf("delta %s is missing its trade", d.ID)
		}
		tr := d.Trade
		if !s.poll.ValidOption(tr.Option) {
			return fmt.Errorf("%w: %d", domain.ErrInvalidOption, tr.Option)
		}
		pos := s.position(d.Actor)
		if tr.Side == domain.TradeSideBuy {
			pos[tr.Option] += tr.Shares
			s.shares[tr.Option] += tr.Shares
			s.reserve = s.reserve.Add(tr.Value)
		} else {
			pos[tr.Option] -= tr.Shares
			s.shares[tr.Option] -= tr.Shares
			s.reserve = s.reserve.Sub(tr.Value)
		}
		s.positions[d.Actor] = pos

	case domain.DeltaWinningsClaimed:
		s, err := e.lookup(d.PollID)
		if err != nil {
			return err
		}
		s.claimed[d.Actor] = true

	case domain.DeltaCommitted, domain.DeltaReverted:
		// Markers only matter to Replay.

	default:
		return fmt.Errorf("unknown delta kind %q", d.Kind)
	}
	return nil
}

// Replay rebuilds state from a journal in sequence order. A pending delta is
// applied only when a committed marker confirms it; reverted and unconfirmed
// deltas are skipped. No tokens move.
func (e *Engine) Replay(deltas []domain.Delta) error {
	committed := make(map[string]bool)
	reverted := make(map[string]bool)
	for _, d := range deltas {
		switch d.Kind {
		case domain.DeltaCommitted:
			committed[d.Commits] = true
		case domain.DeltaReverted:
			reverted[d.Reverts] = true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range deltas {
		if d.Kind == domain.DeltaCommitted || d.Kind == domain.DeltaReverted || reverted[d.ID] {
			continue
		}
		if d.Pending && !committed[d.ID] {
			e.logger.Warn("engine: skipping unconfirmed delta",
				slog.String("delta_id", d.ID),
				slog.String("kind", string(d.Kind)),
				slog.String("poll_id", d.PollID),
			)
			continue
		}
		d.Pending = false
		if err := e.apply(d); err != nil {
			return fmt.Errorf("engine: replay %s (%s): %w", d.ID, d.Kind, err)
		}
	}
	return nil
}
