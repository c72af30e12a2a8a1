package valueobject

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency represents a currency code (ISO 4217)
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	CNY Currency = "CNY"
	JPY Currency = "JPY"
)

// DefaultCurrency is used when a payment source omits the currency
const DefaultCurrency = USD

// defaultScale applies when a code is not known to the ISO tables
const defaultScale int32 = 2

var (
	ErrEmptyCurrency    = errors.New("currency cannot be empty")
	ErrUnknownCurrency  = errors.New("unknown currency code")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// ParseCurrency normalizes and validates an ISO 4217 code
func ParseCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrEmptyCurrency
	}
	if _, err := currency.ParseISO(code); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	return Currency(code), nil
}

// String returns the code
func (c Currency) String() string {
	return string(c)
}

// Scale returns the number of decimal places of the currency's minor unit
// (2 for USD, 0 for JPY).
func (c Currency) Scale() int32 {
	unit, err := currency.ParseISO(string(c))
	if err != nil {
		return defaultScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// MinorUnit returns the smallest representable amount (0.01 for USD)
func (c Currency) MinorUnit() decimal.Decimal {
	return decimal.New(1, -c.Scale())
}

// Floor rounds d toward negative infinity at the currency scale
func (c Currency) Floor(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(c.Scale())
}

// Round rounds d half away from zero at the currency scale
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(c.Scale())
}

// HasValidScale reports whether d has no digits below the minor unit
func (c Currency) HasValidScale(d decimal.Decimal) bool {
	return d.Equal(c.Round(d))
}

// Money is an immutable amount in a single currency
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates Money, rejecting an empty currency
func NewMoney(amount decimal.Decimal, cur Currency) (Money, error) {
	if cur == "" {
		return Money{}, ErrEmptyCurrency
	}
	return Money{amount: amount, currency: cur}, nil
}

// NewMoneyFromString parses amount and builds Money
func NewMoneyFromString(amount string, cur Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount string: %w", err)
	}
	return NewMoney(d, cur)
}

// Zero returns zero in cur
func Zero(cur Currency) Money {
	return Money{amount: decimal.Zero, currency: cur}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() Currency      { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsPositive() bool        { return m.amount.IsPositive() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }

// Add returns m + other; currencies must match
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract returns m - other; currencies must match
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Round rounds to the currency scale
func (m Money) Round() Money {
	return Money{amount: m.currency.Round(m.amount), currency: m.currency}
}

// Equals compares amount and currency
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// LessThan compares amounts in the same currency
func (m Money) LessThan(other Money) bool {
	return m.currency == other.currency && m.amount.LessThan(other.amount)
}

// GreaterThan compares amounts in the same currency
func (m Money) GreaterThan(other Money) bool {
	return m.currency == other.currency && m.amount.GreaterThan(other.amount)
}

// String renders the amount at currency scale followed by the code
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(m.currency.Scale()), m.currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Money) UnmarshalJSON(data []byte) error {
	var v moneyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.amount = v.Amount
	m.currency = v.Currency
	return nil
}

// SumAmounts adds a list of decimals
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
