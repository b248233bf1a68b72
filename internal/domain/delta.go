package domain

import (
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// DeltaKind names a committed state transition.
type DeltaKind string

const (
	DeltaPollCreated     DeltaKind = "poll_created"
	DeltaVoteCast        DeltaKind = "vote_cast"
	DeltaSharesBought    DeltaKind = "shares_bought"
	DeltaSharesSold      DeltaKind = "shares_sold"
	DeltaWinningsClaimed DeltaKind = "winnings_claimed"
	// DeltaCommitted confirms a pending delta once its token movement has
	// succeeded.
	DeltaCommitted DeltaKind = "committed"
	// DeltaReverted cancels a pending delta whose token movement failed.
	DeltaReverted DeltaKind = "reverted"
)

// Delta is a committed state transition of the engine. Exactly one of the
// payload pointers is set, according to Kind; vote deltas also carry the
// reputation award. Deltas are the journal format and the event payload.
// A Pending delta takes effect only once a DeltaCommitted entry names it.
type Delta struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq,omitempty"`
	Kind       DeltaKind         `json:"kind"`
	PollID     string            `json:"poll_id"`
	Actor      common.Address    `json:"actor"`
	At         time.Time         `json:"at"`
	Poll       *Poll             `json:"poll,omitempty"`
	Vote       *Vote             `json:"vote,omitempty"`
	Amount     *math.Int         `json:"amount,omitempty"`
	Trade      *Trade            `json:"trade,omitempty"`
	Claim      *Claim            `json:"claim,omitempty"`
	Reputation *ReputationChange `json:"reputation,omitempty"`
	Pending    bool              `json:"pending,omitempty"`
	Commits    string            `json:"commits,omitempty"`
	Reverts    string            `json:"reverts,omitempty"`
}
