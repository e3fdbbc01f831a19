package instrument

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEquity(t *testing.T) {
	inst, err := Parse("NKE")
	require.NoError(t, err)
	assert.Equal(t, "NKE", inst.Underlying)
	assert.False(t, inst.IsOption())
	assert.Equal(t, Equity, inst.Kind())
	assert.Empty(t, inst.ExpirationKey())
	assert.Equal(t, "NKE", inst.String())
}

func TestParseEquityOption(t *testing.T) {
	inst, err := Parse("NKE_210815_C195")
	require.NoError(t, err)
	assert.Equal(t, "NKE", inst.Underlying)
	assert.Equal(t, time.Date(2021, 8, 15, 0, 0, 0, 0, time.UTC), inst.Expiration)
	assert.Equal(t, "C", inst.PutCall)
	assert.True(t, inst.Strike.Equal(decimal.NewFromInt(195)))
	assert.Equal(t, EquityOption, inst.Kind())
	assert.Equal(t, "210815", inst.ExpirationKey())
	assert.Equal(t, "NKE_210815_C195", inst.String())
}

func TestParseFuture(t *testing.T) {
	inst, err := Parse("/CLZ21")
	require.NoError(t, err)
	assert.Equal(t, "/CLZ21", inst.Underlying)
	assert.Equal(t, Future, inst.Kind())
}

func TestParseFutureOptionByCode(t *testing.T) {
	inst, err := Parse("/CLZ21_LOM21_P58.5")
	require.NoError(t, err)
	assert.Equal(t, "/CLZ21", inst.Underlying)
	assert.True(t, inst.Expiration.IsZero())
	assert.Equal(t, "LOM21", inst.ExpCode)
	assert.Equal(t, "P", inst.PutCall)
	assert.True(t, inst.Strike.Equal(decimal.RequireFromString("58.5")))
	assert.Equal(t, FutureOption, inst.Kind())
	assert.Equal(t, "LOM21", inst.ExpirationKey())
}

func TestParseFractionalStrike(t *testing.T) {
	inst, err := Parse("XYZ_240315_P0.5")
	require.NoError(t, err)
	assert.True(t, inst.Strike.Equal(decimal.RequireFromString("0.5")))
}

func TestParseRejectsBadSymbols(t *testing.T) {
	for _, symbol := range []string{"", "XYZ_990230_C50", "XYZ_240315_X50", "XYZ_240315_Cfifty"} {
		_, err := Parse(symbol)
		assert.Error(t, err, "symbol %q", symbol)
	}
}

func TestParseUnderlying(t *testing.T) {
	cases := map[string]string{
		"NKE":                "NKE",
		"NKE_210815_C195":    "NKE",
		"/CLZ21":             "/CLZ21",
		"/CLZ21_LOM21_P58.5": "/CLZ21",
	}
	for symbol, want := range cases {
		assert.Equal(t, want, ParseUnderlying(symbol), "symbol %q", symbol)
	}
}
