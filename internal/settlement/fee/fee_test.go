package fee

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func amounts(vs ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = d(v)
	}
	return out
}

func requireConserved(t *testing.T, res Result, grosses []decimal.Decimal) {
	t.Helper()
	sum := decimal.Zero
	for _, g := range grosses {
		sum = sum.Add(g.Round(2))
	}
	require.True(t, res.Fee.Add(res.Net).Equal(sum), "fee %s + net %s != gross %s", res.Fee, res.Net, sum)
	require.True(t, res.Gross.Equal(sum))

	fees, nets := decimal.Zero, decimal.Zero
	for _, item := range res.Items {
		require.True(t, item.Fee.Add(item.Net).Equal(item.Gross))
		require.False(t, item.Fee.IsNegative())
		require.False(t, item.Net.IsNegative())
		require.True(t, item.Fee.Equal(item.Fee.Round(2)))
		fees = fees.Add(item.Fee)
		nets = nets.Add(item.Net)
	}
	require.True(t, fees.Equal(res.Fee))
	require.True(t, nets.Equal(res.Net))
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		grosses []decimal.Decimal
		fees    []string
		total   string
	}{
		{
			name:    "per order percent",
			policy:  Policy{Mode: ModePerOrder, Percent: d("2.5")},
			grosses: amounts("100.00", "40.00"),
			fees:    []string{"2.50", "1.00"},
			total:   "3.50",
		},
		{
			name:    "per order flat clamps to gross",
			policy:  Policy{Mode: ModePerOrder, Flat: d("5.00")},
			grosses: amounts("3.00", "10.00"),
			fees:    []string{"3.00", "5.00"},
			total:   "8.00",
		},
		{
			name:    "per batch residual lands on last item",
			policy:  Policy{Mode: ModePerBatch, Flat: d("1.00")},
			grosses: amounts("10.00", "10.00", "10.00"),
			fees:    []string{"0.33", "0.33", "0.34"},
			total:   "1.00",
		},
		{
			name:    "per batch percent plus flat",
			policy:  Policy{Mode: ModePerBatch, Percent: d("3"), Flat: d("0.50")},
			grosses: amounts("33.33", "66.67"),
			fees:    []string{"1.17", "2.33"},
			total:   "3.50",
		},
		{
			name:    "per batch residual spills backwards",
			policy:  Policy{Mode: ModePerBatch, Percent: d("50")},
			grosses: amounts("0.03", "0.03", "0.03", "0.01"),
			fees:    []string{"0.02", "0.02", "0.01", "0.00"},
			total:   "0.05",
		},
		{
			name:    "zero policy",
			policy:  Policy{Mode: ModePerBatch},
			grosses: amounts("12.34"),
			fees:    []string{"0.00"},
			total:   "0.00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Allocate(tt.policy, tt.grosses)
			require.NoError(t, err)
			requireConserved(t, res, tt.grosses)
			for i, want := range tt.fees {
				assert.Equal(t, want, res.Items[i].Fee.StringFixed(2), "item %d", i)
			}
			assert.Equal(t, tt.total, res.Fee.StringFixed(2))
		})
	}
}

func TestAllocate_Empty(t *testing.T) {
	res, err := Allocate(Policy{Mode: ModePerOrder}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.True(t, res.Gross.IsZero())
}

func TestAllocate_RejectsBadInput(t *testing.T) {
	_, err := Allocate(Policy{Mode: "weekly"}, amounts("1.00"))
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = Allocate(Policy{Mode: ModePerOrder, Percent: d("-1")}, amounts("1.00"))
	require.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = Allocate(Policy{Mode: ModePerOrder}, amounts("-1.00"))
	require.ErrorIs(t, err, ErrNegativeGross)
}

func TestAllocate_RandomizedConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(20260301))
	for run := 0; run < 500; run++ {
		n := 1 + rng.Intn(40)
		grosses := make([]decimal.Decimal, n)
		for i := range grosses {
			grosses[i] = decimal.New(rng.Int63n(500000), -2)
		}
		mode := ModePerOrder
		if rng.Intn(2) == 0 {
			mode = ModePerBatch
		}
		policy := Policy{
			Mode:    mode,
			Percent: decimal.New(rng.Int63n(1500), -2),
			Flat:    decimal.New(rng.Int63n(300), -2),
		}

		res, err := Allocate(policy, grosses)
		require.NoError(t, err)
		requireConserved(t, res, grosses)
		if mode == ModePerBatch {
			sum := decimal.Zero
			for _, g := range grosses {
				sum = sum.Add(g)
			}
			require.True(t, res.Fee.Equal(policy.Charge(sum)), "run %d", run)
		}
	}
}
