package domain

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Position is everything one participant holds in one poll: the one-shot
// vote, the prize-pool stake, the claim flag and the traded shares.
type Position struct {
	PollID     string         `json:"poll_id"`
	Address    common.Address `json:"address"`
	Vote       Vote           `json:"vote"`
	HasVoted   bool           `json:"has_voted"`
	Bet        math.Int       `json:"bet"`
	HasClaimed bool           `json:"has_claimed"`
	Shares     []int64        `json:"shares"`
}
