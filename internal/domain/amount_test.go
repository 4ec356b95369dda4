package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountMul(t *testing.T) {
	price := NewAmountFromFloat(50000)
	qty := NewAmountFromFloat(0.3)
	assert.Equal(t, NewAmountFromFloat(15000), price.Mul(qty))
}

func TestAmountStringTrimsTrailingZeros(t *testing.T) {
	cases := []struct {
		amount Amount
		want   string
	}{
		{NewAmountFromFloat(1), "1"},
		{NewAmountFromFloat(1.5), "1.5"},
		{NewAmountFromFloat(0.00000001), "0.00000001"},
		{NewAmountFromFloat(-2.25), "-2.25"},
		{Zero, "0"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.amount.String())
	}
}

func TestParseAmountRejectsExcessPrecision(t *testing.T) {
	_, err := ParseAmount("1.123456789")
	require.Error(t, err, "more than 8 fractional digits must be rejected")

	got, err := ParseAmount("1.00000001")
	require.NoError(t, err)
	assert.Equal(t, NewAmountFromFloat(1.00000001), got)
}

func TestMin(t *testing.T) {
	a := NewAmountFromFloat(1.5)
	b := NewAmountFromFloat(2.5)
	assert.Equal(t, a, Min(a, b))
	assert.Equal(t, a, Min(b, a), "Min should not depend on argument order")
}

func TestAmountFloat64RoundTrip(t *testing.T) {
	a := NewAmountFromFloat(123.456789)
	assert.InDelta(t, 123.456789, a.Float64(), 0.0000001)
}
