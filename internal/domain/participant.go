package domain

import (
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Participant is the stored reputation record of an address. Effective
// reputation and tier are derived at read time.
type Participant struct {
	Address      common.Address `json:"address"`
	Reputation   uint64         `json:"reputation"`
	LastActivity time.Time      `json:"last_activity"`
}

// ReputationChange describes one mutation of a participant's raw reputation.
type ReputationChange struct {
	Address  common.Address `json:"address"`
	Previous uint64         `json:"previous"`
	Current  uint64         `json:"current"`
	Reason   string         `json:"reason"`
	At       time.Time      `json:"at"`
}

// ReputationView is the read model served to clients.
type ReputationView struct {
	Address      common.Address `json:"address"`
	Raw          uint64         `json:"raw"`
	Effective    uint64         `json:"effective"`
	Multiplier   math.LegacyDec `json:"multiplier"`
	Tier         string         `json:"tier"`
	LastActivity time.Time      `json:"last_activity"`
}
