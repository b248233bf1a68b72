package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, "qp:"), mr
}

var (
	owner   = common.HexToAddress("0x0a")
	spender = common.HexToAddress("0x0e")
	other   = common.HexToAddress("0x0b")
)

func TestClientKey(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, "qp:lock:archive", c.Key("lock", "archive"))
	assert.Equal(t, "qp:token", c.Key("token"))
}

func TestTokenLedgerMovements(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	tl := NewTokenLedger(c)

	big, ok := math.NewIntFromString("250000000000000000000")
	require.True(t, ok)
	require.NoError(t, tl.Mint(ctx, owner, big))
	require.NoError(t, tl.Approve(ctx, owner, spender, math.NewInt(1000)))

	require.NoError(t, tl.TransferFrom(ctx, spender, owner, spender, math.NewInt(600)))

	bal, err := tl.BalanceOf(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "249999999999999999400", bal.String())
	left, err := tl.Allowance(ctx, owner, spender)
	require.NoError(t, err)
	assert.Equal(t, "400", left.String())

	err = tl.TransferFrom(ctx, spender, owner, spender, math.NewInt(401))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, tl.Transfer(ctx, spender, other, math.NewInt(100)))
	err = tl.Transfer(ctx, spender, other, math.NewInt(501))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	got, err := mr.Get("qp:token:balance:" + addrKey(other))
	require.NoError(t, err)
	assert.Equal(t, "100", got)
	supply, err := mr.Get("qp:token:supply")
	require.NoError(t, err)
	assert.Equal(t, big.String(), supply)
}

func TestTokenLedgerConcurrentTransfers(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	tl := NewTokenLedger(c)
	require.NoError(t, tl.Mint(ctx, owner, math.NewInt(100)))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tl.Transfer(ctx, owner, other, math.NewInt(1))
		}()
	}
	wg.Wait()

	a, _ := tl.BalanceOf(ctx, owner)
	b, _ := tl.BalanceOf(ctx, other)
	assert.Equal(t, "100", a.Add(b).String())
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	lm := NewLockManager(c)

	release, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()

	again, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, mr := newTestClient(t)
	bus := NewSignalBus(c, 0)

	sub, err := bus.Subscribe(ctx, domain.ChannelPolls)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelPolls, []byte(`{"kind":"vote_cast"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"kind":"vote_cast"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamReputation, []byte("r1")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamReputation, []byte("r2")))
	entries, err := mr.Stream(domain.StreamReputation)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	cancel()
	for range sub {
	}
}
