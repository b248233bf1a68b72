package reputation

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTierFor(t *testing.T) {
	cases := []struct {
		effective uint64
		want      string
		label     string
	}{
		{0, "0.3", "Unverified"},
		{9, "0.3", "Unverified"},
		{10, "0.5", "Novice"},
		{49, "0.5", "Novice"},
		{50, "1.0", "Member"},
		{99, "1.0", "Member"},
		{100, "1.5", "Trusted"},
		{499, "1.5", "Trusted"},
		{500, "2.0", "Veteran"},
		{999, "2.0", "Veteran"},
		{1000, "3.0", "Elite"},
		{1 << 40, "3.0", "Elite"},
	}
	for _, tc := range cases {
		tier := TierFor(tc.effective)
		assert.True(t, tier.Multiplier.Equal(math.LegacyMustNewDecFromStr(tc.want)),
			"effective %d: got %s want %s", tc.effective, tier.Multiplier, tc.want)
		assert.Equal(t, tc.label, tier.Label)
		assert.True(t, tier.Multiplier.IsPositive())
	}
}

func TestEffectiveReputationDecay(t *testing.T) {
	p := DefaultParams()
	day := 24 * time.Hour

	cases := []struct {
		name    string
		raw     uint64
		elapsed time.Duration
		want    uint64
	}{
		{"no time passed", 400, 0, 400},
		{"just under one period", 100, 30*day - time.Second, 100},
		{"one period", 100, 30 * day, 95},
		{"two periods compound", 400, 60 * day, 361},
		{"truncated", 7, 30 * day, 6},
		{"very long inactivity", 1_000_000, 1000 * 30 * day, 0},
		{"zero stays zero", 0, 90 * day, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EffectiveReputation(tc.raw, t0, t0.Add(tc.elapsed), p)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEffectiveReputationWithoutActivityClock(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, uint64(50), EffectiveReputation(50, time.Time{}, t0, p))
	assert.Equal(t, uint64(50), EffectiveReputation(50, t0, t0.Add(-time.Hour), p))
}

func TestLedgerEarnAndApply(t *testing.T) {
	l := NewLedger(DefaultParams())
	addr := common.HexToAddress("0x1")

	assert.Equal(t, uint64(0), l.Effective(addr, t0))
	assert.True(t, l.Multiplier(addr, t0).Equal(FloorMultiplier))

	change := l.PlanEarn(addr, t0, ReasonVoteCast)
	assert.Equal(t, uint64(0), change.Previous)
	assert.Equal(t, uint64(10), change.Current)
	assert.Equal(t, 0, l.Len(), "planning must not mutate")

	l.Apply(change)
	assert.Equal(t, uint64(10), l.Participant(addr).Reputation)
	assert.Equal(t, "Novice", l.Tier(addr, t0).Label)

	view := l.View(addr, t0.Add(31*24*time.Hour))
	assert.Equal(t, uint64(10), view.Raw)
	assert.Equal(t, uint64(9), view.Effective)
	assert.Equal(t, "Unverified", view.Tier)
}

func TestLedgerEarnRestartsDecayClock(t *testing.T) {
	l := NewLedger(DefaultParams())
	addr := common.HexToAddress("0x2")
	l.Apply(domainChange(addr, 100, t0))

	later := t0.Add(60 * 24 * time.Hour)
	require.Equal(t, uint64(90), l.Effective(addr, later))

	l.Apply(l.PlanEarn(addr, later, ReasonVoteCast))
	assert.Equal(t, uint64(110), l.Effective(addr, later))
	assert.Equal(t, "Trusted", l.Tier(addr, later).Label)
}

func TestLedgerSnapshotIsCopy(t *testing.T) {
	l := NewLedger(DefaultParams())
	addr := common.HexToAddress("0x3")
	l.Apply(domainChange(addr, 5, t0))

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	delete(snap, addr)
	assert.Equal(t, 1, l.Len())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.DecayPeriod = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.DecayRate = math.LegacyOneDec()
	assert.Error(t, p.Validate())
}

func domainChange(addr common.Address, rep uint64, at time.Time) domain.ReputationChange {
	return domain.ReputationChange{Address: addr, Current: rep, Reason: "seed", At: at}
}
