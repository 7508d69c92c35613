package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMinDecimalReturnsSmaller(t *testing.T) {
	a := decimal.NewFromFloat(1.5)
	b := decimal.NewFromFloat(2.5)
	require.True(t, MinDecimal(a, b).Equal(a))
	require.True(t, MinDecimal(b, a).Equal(a))
}

func TestMaxDecimalReturnsLarger(t *testing.T) {
	a := decimal.NewFromFloat(1.5)
	b := decimal.NewFromFloat(2.5)
	require.True(t, MaxDecimal(a, b).Equal(b))
	require.True(t, MaxDecimal(b, a).Equal(b))
}

func TestClampDecimalWithinRangeIsUnchanged(t *testing.T) {
	v := decimal.NewFromFloat(5)
	min := decimal.NewFromFloat(0)
	max := decimal.NewFromFloat(10)
	require.True(t, ClampDecimal(v, min, max).Equal(v))
}

func TestClampDecimalBelowMinIsRaised(t *testing.T) {
	v := decimal.NewFromFloat(-1)
	min := decimal.NewFromFloat(0)
	max := decimal.NewFromFloat(10)
	require.True(t, ClampDecimal(v, min, max).Equal(min))
}

func TestClampDecimalAboveMaxIsLowered(t *testing.T) {
	v := decimal.NewFromFloat(11)
	min := decimal.NewFromFloat(0)
	max := decimal.NewFromFloat(10)
	require.True(t, ClampDecimal(v, min, max).Equal(max))
}

func TestFormatMoneyUSD(t *testing.T) {
	require.Equal(t, "$1234.50", FormatMoney(decimal.NewFromFloat(1234.5), "usd"))
}

func TestFormatMoneyBTCUsesEightDecimals(t *testing.T) {
	require.Equal(t, "0.00500000 BTC", FormatMoney(decimal.NewFromFloat(0.005), "BTC"))
}

func TestFormatMoneyUnknownCurrencyFallsBackToPlainString(t *testing.T) {
	require.Equal(t, "3 ETH", FormatMoney(decimal.NewFromInt(3), "ETH"))
}
