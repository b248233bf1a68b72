// Package service orchestrates the poll engine with its surroundings: it
// restores engine state from the journal at startup and fans committed
// deltas out to the signal bus and the audit log.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/engine"
	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
)

// restorePageSize is the journal page size used by Restore.
const restorePageSize = 1000

// PollService is the write path used by the API. Views are served by the
// engine directly.
type PollService struct {
	engine  *engine.Engine
	journal domain.JournalStore
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewPollService creates a PollService. bus and audit may be nil.
func NewPollService(
	eng *engine.Engine,
	journal domain.JournalStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PollService {
	return &PollService{
		engine:  eng,
		journal: journal,
		bus:     bus,
		audit:   audit,
		logger:  logger,
	}
}

// Restore replays the whole journal into the engine and returns the number
// of deltas read. It must run before the engine accepts writes.
func (s *PollService) Restore(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	var (
		all   []domain.Delta
		after int64
	)
	for {
		page, err := s.journal.Since(ctx, after, restorePageSize)
		if err != nil {
			return 0, fmt.Errorf("poll_service: read journal: %w", err)
		}
		all = append(all, page...)
		if len(page) < restorePageSize {
			break
		}
		after = page[len(page)-1].Seq
	}
	if err := s.engine.Replay(all); err != nil {
		return 0, fmt.Errorf("poll_service: replay: %w", err)
	}
	s.logger.InfoContext(ctx, "poll_service: state restored",
		slog.Int("deltas", len(all)),
		slog.Int("polls", len(s.engine.Polls())),
	)
	return len(all), nil
}

// CreatePoll opens a new poll.
func (s *PollService) CreatePoll(ctx context.Context, creator common.Address, params domain.PollParams) (domain.Poll, error) {
	d, err := s.engine.CreatePoll(ctx, creator, params)
	if err != nil {
		return domain.Poll{}, err
	}
	s.committed(ctx, d)
	return *d.Poll, nil
}

// Vote casts voter's vote.
func (s *PollService) Vote(ctx context.Context, voter common.Address, pollID string, option int, credits int64, method domain.VotingMethod) (domain.Delta, error) {
	d, err := s.engine.Vote(ctx, voter, pollID, option, credits, method)
	if err != nil {
		return domain.Delta{}, err
	}
	s.committed(ctx, d)
	return d, nil
}

// Buy purchases outcome shares.
func (s *PollService) Buy(ctx context.Context, trader common.Address, pollID string, option int, amount int64) (domain.Delta, error) {
	d, err := s.engine.Buy(ctx, trader, pollID, option, amount)
	if err != nil {
		return domain.Delta{}, err
	}
	s.committed(ctx, d)
	return d, nil
}

// Sell redeems outcome shares.
func (s *PollService) Sell(ctx context.Context, trader common.Address, pollID string, option int, amount int64) (domain.Delta, error) {
	d, err := s.engine.Sell(ctx, trader, pollID, option, amount)
	if err != nil {
		return domain.Delta{}, err
	}
	s.committed(ctx, d)
	return d, nil
}

// Claim pays out winnings.
func (s *PollService) Claim(ctx context.Context, claimant common.Address, pollID string) (domain.Delta, error) {
	d, err := s.engine.Claim(ctx, claimant, pollID)
	if err != nil {
		return domain.Delta{}, err
	}
	s.committed(ctx, d)
	return d, nil
}

// committed fans d out. Failures here are logged and never undo the delta.
func (s *PollService) committed(ctx context.Context, d domain.Delta) {
	if s.bus != nil {
		if payload, err := json.Marshal(d); err == nil {
			s.publish(ctx, domain.ChannelPolls, payload, d)
		}
		if d.Reputation != nil {
			if payload, err := json.Marshal(d.Reputation); err == nil {
				s.publish(ctx, domain.ChannelReputation, payload, d)
				if err := s.bus.StreamAppend(ctx, domain.StreamReputation, payload); err != nil {
					s.logger.WarnContext(ctx, "poll_service: stream append failed",
						slog.String("delta_id", d.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, string(d.Kind), auditDetail(d)); err != nil {
			s.logger.WarnContext(ctx, "poll_service: audit log failed",
				slog.String("delta_id", d.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "poll_service: "+strings.ReplaceAll(string(d.Kind), "_", " "),
		slog.String("poll_id", d.PollID),
		slog.String("actor", d.Actor.Hex()),
		slog.String("delta_id", d.ID),
	)
}

func (s *PollService) publish(ctx context.Context, channel string, payload []byte, d domain.Delta) {
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "poll_service: publish failed",
			slog.String("channel", channel),
			slog.String("delta_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

// auditDetail flattens d into the audit row. Amounts are raw base-unit
// strings.
func auditDetail(d domain.Delta) map[string]any {
	detail := map[string]any{
		"delta_id": d.ID,
		"poll_id":  d.PollID,
		"actor":    strings.ToLower(d.Actor.Hex()),
	}
	switch {
	case d.Poll != nil:
		detail["question"] = d.Poll.Question
		detail["options"] = len(d.Poll.Options)
		detail["end_time"] = d.Poll.EndTime
		detail["method"] = string(d.Poll.Method)
	case d.Vote != nil:
		detail["option"] = d.Vote.Option
		detail["credits"] = d.Vote.Credits
		detail["method"] = string(d.Vote.Method)
		detail["weight"] = fixedpoint.Raw(d.Vote.Weight)
		if d.Amount != nil {
			detail["amount"] = d.Amount.String()
		}
	case d.Trade != nil:
		detail["side"] = string(d.Trade.Side)
		detail["option"] = d.Trade.Option
		detail["shares"] = d.Trade.Shares
		detail["value"] = d.Trade.Value.String()
	case d.Claim != nil:
		detail["option"] = d.Claim.Option
		detail["payout"] = d.Claim.Payout.String()
	}
	if d.Reputation != nil {
		detail["reputation"] = d.Reputation.Current
	}
	return detail
}
