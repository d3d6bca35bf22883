package adapters

import (
	"testing"

	"github.com/railzwaylabs/storepay/internal/payment/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		minor    int64
	}{
		{"100.00", "SAR", 10000},
		{"19.99", "usd", 1999},
		{"500", "JPY", 500},
		{"1.234", "KWD", 1234},
	}
	for _, tc := range cases {
		amount := decimal.RequireFromString(tc.amount)
		assert.Equal(t, tc.minor, ToMinor(amount, tc.currency), tc.currency)
		assert.True(t, FromMinor(tc.minor, tc.currency).Equal(amount), tc.currency)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.ProviderExists("stripe"))
	_, err := r.NewAdapter("stripe", domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}
