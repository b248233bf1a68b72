package domain

import (
	"context"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// TokenLedger is the settlement-token collaborator. The engine only consumes
// it: it reads balances and allowances, pulls stakes with TransferFrom and
// pays out of its escrow account with Transfer.
//
// Implementations return ErrInsufficientBalance or ErrInsufficientAllowance
// (wrapped) when a movement cannot be satisfied.
type TokenLedger interface {
	BalanceOf(ctx context.Context, owner common.Address) (math.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (math.Int, error)
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount math.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount math.Int) error
}

// TokenMinter is implemented by ledgers that back the development faucet.
type TokenMinter interface {
	Mint(ctx context.Context, to common.Address, amount math.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount math.Int) error
}
