package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const moneyFractionDigits = 8

var moneyScale = decimal.New(1, moneyFractionDigits)

// Money represents a BRL amount stored in minor units (1e-8 of the major
// currency). Arithmetic goes through decimal values and the result is
// truncated back to the fixed precision.
type Money struct {
	minorUnits int64
}

// NewMoneyFromMinorUnits constructs a Money value from its minor-unit
// representation.
func NewMoneyFromMinorUnits(units int64) Money {
	return Money{minorUnits: units}
}

// ErrMoneyOutOfRange reports an amount whose minor units do not fit in int64.
var ErrMoneyOutOfRange = errors.New("money amount out of range")

// MoneyFromDecimal truncates d to eight fractional digits.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	scaled := d.Mul(moneyScale).Truncate(0)
	if !scaled.BigInt().IsInt64() {
		return Money{}, ErrMoneyOutOfRange
	}
	return Money{minorUnits: scaled.IntPart()}, nil
}

// MinorUnits exposes the internal integer representation scaled by 1e-8.
func (m Money) MinorUnits() int64 {
	return m.minorUnits
}

// Decimal returns the amount as an arbitrary precision decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minorUnits, -moneyFractionDigits)
}

func (m Money) Add(other Money) Money {
	return Money{minorUnits: m.minorUnits + other.minorUnits}
}

func (m Money) Sub(other Money) Money {
	return Money{minorUnits: m.minorUnits - other.minorUnits}
}

// MulRate multiplies the amount by a decimal rate such as "0.05".
func (m Money) MulRate(rate decimal.Decimal) (Money, error) {
	return MoneyFromDecimal(m.Decimal().Mul(rate))
}

func (m Money) IsZero() bool {
	return m.minorUnits == 0
}

func (m Money) IsNegative() bool {
	return m.minorUnits < 0
}

// DecimalString returns the canonical decimal representation with up to eight
// fractional digits and no trailing zeros.
func (m Money) DecimalString() string {
	return m.Decimal().String()
}

// String implements fmt.Stringer.
func (m Money) String() string {
	return m.DecimalString()
}

// MarshalJSON encodes the amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.DecimalString()), nil
}

// UnmarshalJSON accepts a JSON number or string. A JSON null resets the value
// to zero.
func (m *Money) UnmarshalJSON(data []byte) error {
	if m == nil {
		return fmt.Errorf("models: cannot decode into nil Money pointer")
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*m = Money{}
		return nil
	}
	raw := trimmed
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode money string: %w", err)
		}
	}
	money, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = money
	return nil
}

// ParseMoney parses a decimal string with up to eight fractional digits.
func ParseMoney(value string) (Money, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Money{}, fmt.Errorf("invalid money amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount")
	}
	scaled := d.Mul(moneyScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Money{}, fmt.Errorf("amount supports up to %d decimal places", moneyFractionDigits)
	}
	if !scaled.BigInt().IsInt64() {
		return Money{}, ErrMoneyOutOfRange
	}
	return Money{minorUnits: scaled.IntPart()}, nil
}

// MustParseMoney panics if the value cannot be parsed. It is intended for
// tests and static initialisation.
func MustParseMoney(value string) Money {
	money, err := ParseMoney(value)
	if err != nil {
		panic(err)
	}
	return money
}
