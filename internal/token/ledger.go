// Package token provides an in-process settlement token: ERC-20 style
// balances and allowances held in memory. It backs single-node deployments,
// the development faucet and tests.
package token

import (
	"context"
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

type allowanceKey struct {
	owner, spender common.Address
}

// Ledger implements domain.TokenLedger and domain.TokenMinter.
type Ledger struct {
	mu         sync.Mutex
	balances   map[common.Address]math.Int
	allowances map[allowanceKey]math.Int
	supply     math.Int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]math.Int),
		allowances: make(map[allowanceKey]math.Int),
		supply:     math.ZeroInt(),
	}
}

func (l *Ledger) balance(addr common.Address) math.Int {
	b, ok := l.balances[addr]
	if !ok {
		return math.ZeroInt()
	}
	return b
}

func (l *Ledger) allowance(owner, spender common.Address) math.Int {
	a, ok := l.allowances[allowanceKey{owner, spender}]
	if !ok {
		return math.ZeroInt()
	}
	return a
}

// BalanceOf returns owner's balance.
func (l *Ledger) BalanceOf(_ context.Context, owner common.Address) (math.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(owner), nil
}

// Allowance returns what spender may still move out of owner's balance.
func (l *Ledger) Allowance(_ context.Context, owner, spender common.Address) (math.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(owner, spender), nil
}

// TotalSupply returns the sum of all minted tokens.
func (l *Ledger) TotalSupply() math.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(_ context.Context, from, to common.Address, amount math.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount out of from on behalf of spender, consuming
// allowance.
func (l *Ledger) TransferFrom(_ context.Context, spender, from, to common.Address, amount math.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(from, spender)
	if allowed.LT(amount) {
		return fmt.Errorf("token: %w: %s approved %s for %s, need %s",
			domain.ErrInsufficientAllowance, from.Hex(), spender.Hex(), allowed, amount)
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	l.allowances[allowanceKey{from, spender}] = allowed.Sub(amount)
	return nil
}

func (l *Ledger) move(from, to common.Address, amount math.Int) error {
	bal := l.balance(from)
	if bal.LT(amount) {
		return fmt.Errorf("token: %w: %s has %s, need %s", domain.ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balance(to).Add(amount)
	return nil
}

// Mint creates amount new tokens for to.
func (l *Ledger) Mint(_ context.Context, to common.Address, amount math.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] = l.balance(to).Add(amount)
	l.supply = l.supply.Add(amount)
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(_ context.Context, owner, spender common.Address, amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("token: %w: negative approval", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

func checkAmount(amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("token: %w: %v", domain.ErrInvalidAmount, amount)
	}
	return nil
}
