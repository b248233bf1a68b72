package settlement

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
)

func dec(s string) math.LegacyDec { return math.LegacyMustNewDecFromStr(s) }

func TestWinner(t *testing.T) {
	cases := []struct {
		name    string
		weights []string
		want    int
		weight  string
	}{
		{"clear winner", []string{"1", "4.5", "2"}, 1, "4.5"},
		{"tie goes to lowest index", []string{"3", "1", "3"}, 0, "3"},
		{"later tie", []string{"1", "5", "5"}, 1, "5"},
		{"no votes", []string{"0", "0"}, 0, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ws := make([]math.LegacyDec, len(tc.weights))
			for i, w := range tc.weights {
				ws[i] = dec(w)
			}
			idx, w := Winner(ws)
			assert.Equal(t, tc.want, idx)
			assert.True(t, w.Equal(dec(tc.weight)))
		})
	}
}

func TestPayoutFloor(t *testing.T) {
	pool := math.NewInt(100)
	got := Payout(pool, dec("1"), dec("3"))
	assert.Equal(t, "33", got.String())

	got = Payout(fixedpoint.Tokens(30), dec("4.5"), dec("9"))
	assert.Equal(t, fixedpoint.Tokens(15).String(), got.String())
}

func TestPayoutZeroWinningTotal(t *testing.T) {
	assert.True(t, Payout(math.NewInt(100), dec("1"), math.LegacyZeroDec()).IsZero())
	assert.True(t, Payout(math.NewInt(100), math.LegacyZeroDec(), dec("2")).IsZero())
}

func TestDistributeConservesPool(t *testing.T) {
	pool := fixedpoint.Tokens(17).AddRaw(1)
	weights := map[string]math.LegacyDec{
		"a": dec("1.414213562373095048"),
		"b": dec("3"),
		"c": dec("0.3"),
	}
	total := math.LegacyZeroDec()
	for _, w := range weights {
		total = total.Add(w)
	}

	payouts, dust := Distribute(pool, weights, total)
	sum := math.ZeroInt()
	for _, p := range payouts {
		sum = sum.Add(p)
	}
	assert.True(t, sum.LTE(pool))
	assert.Equal(t, pool.String(), sum.Add(dust).String())
	assert.True(t, dust.LT(math.NewInt(int64(len(weights)))))
}
