package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// maxTxAttempts bounds optimistic retries of one token movement.
const maxTxAttempts = 16

// errContended is returned when a movement lost every WATCH race.
var errContended = errors.New("redis: token ledger contended")

// TokenLedger implements domain.TokenLedger and domain.TokenMinter on Redis
// string keys holding base-unit amounts as decimal integers. Every movement
// is an optimistic WATCH/MULTI transaction over the keys it touches. Amounts
// exceed what Lua numbers represent exactly, so the arithmetic stays in Go.
type TokenLedger struct {
	c *Client
}

// NewTokenLedger creates a TokenLedger.
func NewTokenLedger(c *Client) *TokenLedger {
	return &TokenLedger{c: c}
}

func addrKey(a common.Address) string { return strings.ToLower(a.Hex()) }

func (t *TokenLedger) balanceKey(a common.Address) string {
	return t.c.Key("token", "balance", addrKey(a))
}

func (t *TokenLedger) allowanceKey(owner, spender common.Address) string {
	return t.c.Key("token", "allowance", addrKey(owner), addrKey(spender))
}

func (t *TokenLedger) supplyKey() string {
	return t.c.Key("token", "supply")
}

func readAmount(ctx context.Context, r redis.Cmdable, key string) (math.Int, error) {
	s, err := r.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return math.ZeroInt(), nil
	}
	if err != nil {
		return math.Int{}, err
	}
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("malformed amount %q at %s", s, key)
	}
	return v, nil
}

// BalanceOf returns owner's balance.
func (t *TokenLedger) BalanceOf(ctx context.Context, owner common.Address) (math.Int, error) {
	v, err := readAmount(ctx, t.c.rdb, t.balanceKey(owner))
	if err != nil {
		return math.Int{}, fmt.Errorf("redis: balance of %s: %w", owner.Hex(), err)
	}
	return v, nil
}

// Allowance returns what spender may still move out of owner's balance.
func (t *TokenLedger) Allowance(ctx context.Context, owner, spender common.Address) (math.Int, error) {
	v, err := readAmount(ctx, t.c.rdb, t.allowanceKey(owner, spender))
	if err != nil {
		return math.Int{}, fmt.Errorf("redis: allowance of %s: %w", owner.Hex(), err)
	}
	return v, nil
}

// update runs plan inside WATCH on keys and writes the amounts it returns in
// one MULTI/EXEC, retrying when a watched key changed underneath.
func (t *TokenLedger) update(ctx context.Context, op string, keys []string, plan func(tx *redis.Tx) (map[string]math.Int, error)) error {
	for range maxTxAttempts {
		err := t.c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			writes, err := plan(tx)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for k, v := range writes {
					p.Set(ctx, k, v.String(), 0)
				}
				return nil
			})
			return err
		}, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis: token %s: %w", op, err)
		}
		return nil
	}
	return fmt.Errorf("redis: token %s: %w", op, errContended)
}

// moveWrites debits from and credits to, reading both inside tx.
func (t *TokenLedger) moveWrites(ctx context.Context, tx *redis.Tx, from, to common.Address, amount math.Int) (map[string]math.Int, error) {
	fromKey, toKey := t.balanceKey(from), t.balanceKey(to)
	bal, err := readAmount(ctx, tx, fromKey)
	if err != nil {
		return nil, err
	}
	if bal.LT(amount) {
		return nil, fmt.Errorf("%w: %s has %s, need %s", domain.ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	if fromKey == toKey {
		return map[string]math.Int{}, nil
	}
	dst, err := readAmount(ctx, tx, toKey)
	if err != nil {
		return nil, err
	}
	return map[string]math.Int{
		fromKey: bal.Sub(amount),
		toKey:   dst.Add(amount),
	}, nil
}

// Transfer moves amount from one account to another.
func (t *TokenLedger) Transfer(ctx context.Context, from, to common.Address, amount math.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	keys := []string{t.balanceKey(from), t.balanceKey(to)}
	return t.update(ctx, "transfer", keys, func(tx *redis.Tx) (map[string]math.Int, error) {
		return t.moveWrites(ctx, tx, from, to, amount)
	})
}

// TransferFrom moves amount out of from on behalf of spender, consuming
// allowance.
func (t *TokenLedger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount math.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	allowKey := t.allowanceKey(from, spender)
	keys := []string{allowKey, t.balanceKey(from), t.balanceKey(to)}
	return t.update(ctx, "transfer from", keys, func(tx *redis.Tx) (map[string]math.Int, error) {
		allowed, err := readAmount(ctx, tx, allowKey)
		if err != nil {
			return nil, err
		}
		if allowed.LT(amount) {
			return nil, fmt.Errorf("%w: %s approved %s, need %s", domain.ErrInsufficientAllowance, from.Hex(), allowed, amount)
		}
		writes, err := t.moveWrites(ctx, tx, from, to, amount)
		if err != nil {
			return nil, err
		}
		writes[allowKey] = allowed.Sub(amount)
		return writes, nil
	})
}

// Mint credits amount new tokens to to.
func (t *TokenLedger) Mint(ctx context.Context, to common.Address, amount math.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	balKey, supKey := t.balanceKey(to), t.supplyKey()
	return t.update(ctx, "mint", []string{balKey, supKey}, func(tx *redis.Tx) (map[string]math.Int, error) {
		bal, err := readAmount(ctx, tx, balKey)
		if err != nil {
			return nil, err
		}
		supply, err := readAmount(ctx, tx, supKey)
		if err != nil {
			return nil, err
		}
		return map[string]math.Int{
			balKey: bal.Add(amount),
			supKey: supply.Add(amount),
		}, nil
	})
}

// Approve sets spender's allowance over owner's balance.
func (t *TokenLedger) Approve(ctx context.Context, owner, spender common.Address, amount math.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := t.c.rdb.Set(ctx, t.allowanceKey(owner, spender), amount.String(), 0).Err(); err != nil {
		return fmt.Errorf("redis: approve %s: %w", owner.Hex(), err)
	}
	return nil
}

func validAmount(amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("redis: %w: %v", domain.ErrInvalidAmount, amount)
	}
	return nil
}

var (
	_ domain.TokenLedger = (*TokenLedger)(nil)
	_ domain.TokenMinter = (*TokenLedger)(nil)
)
