package valueobject

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	t.Run("normalizes case and whitespace", func(t *testing.T) {
		c, err := ParseCurrency(" usd ")
		require.NoError(t, err)
		assert.Equal(t, USD, c)
	})

	t.Run("rejects empty code", func(t *testing.T) {
		_, err := ParseCurrency("")
		assert.ErrorIs(t, err, ErrEmptyCurrency)
	})

	t.Run("rejects unknown code", func(t *testing.T) {
		_, err := ParseCurrency("ZZQ")
		assert.ErrorIs(t, err, ErrUnknownCurrency)
	})
}

func TestCurrency_Scale(t *testing.T) {
	assert.Equal(t, int32(2), USD.Scale())
	assert.Equal(t, int32(2), EUR.Scale())
	assert.Equal(t, int32(0), JPY.Scale())
	assert.Equal(t, int32(2), Currency("???").Scale())
}

func TestCurrency_MinorUnit(t *testing.T) {
	assert.True(t, USD.MinorUnit().Equal(decimal.RequireFromString("0.01")))
	assert.True(t, JPY.MinorUnit().Equal(decimal.NewFromInt(1)))
}

func TestCurrency_Floor(t *testing.T) {
	d := decimal.RequireFromString("97.2972")
	assert.Equal(t, "97.29", USD.Floor(d).StringFixed(2))
	assert.Equal(t, "97", JPY.Floor(d).String())
}

func TestCurrency_HasValidScale(t *testing.T) {
	assert.True(t, USD.HasValidScale(decimal.RequireFromString("10.25")))
	assert.False(t, USD.HasValidScale(decimal.RequireFromString("10.255")))
	assert.False(t, JPY.HasValidScale(decimal.RequireFromString("10.5")))
}

func TestNewMoney(t *testing.T) {
	t.Run("creates money", func(t *testing.T) {
		m, err := NewMoney(decimal.NewFromInt(100), USD)
		require.NoError(t, err)
		assert.Equal(t, USD, m.Currency())
		assert.True(t, m.IsPositive())
	})

	t.Run("rejects empty currency", func(t *testing.T) {
		_, err := NewMoney(decimal.NewFromInt(100), "")
		assert.ErrorIs(t, err, ErrEmptyCurrency)
	})

	t.Run("parses string amounts", func(t *testing.T) {
		m, err := NewMoneyFromString("123.45", EUR)
		require.NoError(t, err)
		assert.Equal(t, "123.45 EUR", m.String())

		_, err = NewMoneyFromString("abc", EUR)
		assert.Error(t, err)
	})
}

func TestMoney_Arithmetic(t *testing.T) {
	a, _ := NewMoneyFromString("100.10", USD)
	b, _ := NewMoneyFromString("0.20", USD)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "100.30 USD", sum.String())

	diff, err := a.Subtract(b)
	require.NoError(t, err)
	assert.Equal(t, "99.90 USD", diff.String())

	assert.True(t, b.LessThan(a))
	assert.True(t, a.GreaterThan(b))
	assert.False(t, a.Equals(b))

	eur, _ := NewMoneyFromString("1", EUR)
	_, err = a.Add(eur)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	_, err = a.Subtract(eur)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.False(t, a.LessThan(eur))
}

func TestMoney_JSON(t *testing.T) {
	m, _ := NewMoneyFromString("42.50", USD)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"42.5","currency":"USD"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equals(back))
}

func TestSumAmounts(t *testing.T) {
	total := SumAmounts(
		decimal.RequireFromString("0.10"),
		decimal.RequireFromString("0.20"),
		decimal.RequireFromString("0.30"),
	)
	assert.True(t, total.Equal(decimal.RequireFromString("0.60")))
	assert.True(t, SumAmounts().IsZero())
}
