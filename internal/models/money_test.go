package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMoneyValid(t *testing.T) {
	cases := []struct {
		name  string
		input string
		units int64
	}{
		{name: "zero", input: "0", units: 0},
		{name: "integer", input: "42", units: 4200000000},
		{name: "fraction", input: "5.5", units: 550000000},
		{name: "maxFraction", input: "0.12345678", units: 12345678},
		{name: "negative", input: "-1.25", units: -125000000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			money, err := ParseMoney(tc.input)
			if err != nil {
				t.Fatalf("ParseMoney(%q) returned error: %v", tc.input, err)
			}
			if money.MinorUnits() != tc.units {
				t.Fatalf("expected %d minor units, got %d", tc.units, money.MinorUnits())
			}
			if got := money.DecimalString(); got != tc.input {
				t.Fatalf("DecimalString mismatch: want %q, got %q", tc.input, got)
			}
		})
	}
}

func TestParseMoneyInvalid(t *testing.T) {
	inputs := []string{"", "abc", "1.000000001", "0.123456789"}
	for _, input := range inputs {
		if _, err := ParseMoney(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestMoneyUnmarshalAcceptsStrings(t *testing.T) {
	var decoded struct {
		Price Money `json:"price"`
	}
	if err := json.Unmarshal([]byte(`{"price":"19.90"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Price.MinorUnits() != 1990000000 {
		t.Fatalf("expected 1990000000 minor units, got %d", decoded.Price.MinorUnits())
	}
	payload, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"price":19.9}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestMoneyMulRateTruncates(t *testing.T) {
	amount := MustParseMoney("0.00000003")
	got, err := amount.MulRate(decimal.RequireFromString("0.5"))
	if err != nil {
		t.Fatalf("MulRate: %v", err)
	}
	if got.MinorUnits() != 1 {
		t.Fatalf("expected truncation to 1 minor unit, got %d", got.MinorUnits())
	}

	base, err := MoneyFromDecimal(decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("MoneyFromDecimal: %v", err)
	}
	gross, err := base.MulRate(decimal.RequireFromString("0.05"))
	if err != nil {
		t.Fatalf("MulRate: %v", err)
	}
	if gross.DecimalString() != "50" {
		t.Fatalf("expected 50, got %s", gross.DecimalString())
	}
	fee, err := gross.MulRate(decimal.RequireFromString("0.2"))
	if err != nil {
		t.Fatalf("MulRate: %v", err)
	}
	if net := gross.Sub(fee); net.DecimalString() != "40" {
		t.Fatalf("expected 40, got %s", net.DecimalString())
	}
}

func TestMoneyFromDecimalRejectsOutOfRange(t *testing.T) {
	// 1e11 BRL is 1e19 minor units, past MaxInt64.
	if _, err := MoneyFromDecimal(decimal.New(1, 11)); !errors.Is(err, ErrMoneyOutOfRange) {
		t.Fatalf("expected ErrMoneyOutOfRange, got %v", err)
	}
	if _, err := MoneyFromDecimal(decimal.New(-1, 11)); !errors.Is(err, ErrMoneyOutOfRange) {
		t.Fatalf("expected ErrMoneyOutOfRange for negative overflow, got %v", err)
	}
	if _, err := ParseMoney("100000000000"); !errors.Is(err, ErrMoneyOutOfRange) {
		t.Fatalf("expected ParseMoney to share the range error, got %v", err)
	}
	if _, err := MoneyFromDecimal(decimal.RequireFromString("92233720368.54775807")); err != nil {
		t.Fatalf("expected the largest representable amount to fit, got %v", err)
	}
}

func TestTransactionStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		allowed  bool
	}{
		{TransactionPending, TransactionCompleted, true},
		{TransactionPending, TransactionFailed, true},
		{TransactionCompleted, TransactionFailed, false},
		{TransactionFailed, TransactionCompleted, false},
		{TransactionPending, TransactionPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}
