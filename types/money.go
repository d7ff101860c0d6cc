package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultCurrency is used when a plan or bundle does not name one.
const DefaultCurrency = "usd"

// Money is an integer amount in the smallest unit of a single currency.
// tokenledger never converts between currencies; the currency code is a label
// carried through to invoices so the payment processor can charge correctly.
type Money struct {
	Amount   int64  `json:"amount"`   // minor units (cents)
	Currency string `json:"currency"` // ISO 4217, lowercase
}

// New creates a Money value, normalizing the currency code.
func New(amount int64, currency string) Money {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: amount, Currency: currency}
}

// USD creates a Money value in US cents.
func USD(cents int64) Money { return New(cents, "usd") }

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money { return New(0, currency) }

// ErrCurrencyMismatch is returned when arithmetic mixes currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Add returns m+other. Mixed currencies are rejected rather than converted.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s != %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Multiply scales the amount by qty.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// FormatMajor renders the amount in major units with two decimals ("49.00").
func (m Money) FormatMajor() string {
	abs := m.Amount
	sign := ""
	if abs < 0 {
		abs = -abs
		sign = "-"
	}
	return fmt.Sprintf("%s%d.%02d", sign, abs/100, abs%100)
}

// String renders the amount with its currency code, e.g. "49.00 USD".
func (m Money) String() string {
	return m.FormatMajor() + " " + strings.ToUpper(m.Currency)
}

// MarshalJSON adds a display field next to the raw amount.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON accepts the MarshalJSON shape and ignores the display field.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = New(raw.Amount, raw.Currency)
	return nil
}
