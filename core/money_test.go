package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyLimits_Validate(t *testing.T) {
	limits := DefaultMoneyLimits()
	cases := []struct {
		amount   string
		currency string
		valid    bool
	}{
		{"500", "USD", true},
		{"1000000", "eur", true},
		{"0", "USD", false},
		{"-5", "USD", false},
		{"2000000", "USD", false},
		{"10", "JPY", false},
	}
	for _, tc := range cases {
		money, err := ParseMoney(tc.amount, tc.currency)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.amount, err)
		}
		err = limits.Validate(money)
		if tc.valid && err != nil {
			t.Fatalf("%s %s: expected valid, got %v", tc.amount, tc.currency, err)
		}
		if !tc.valid && !IsTextCode(err, ErrorValidationFailed) {
			t.Fatalf("%s %s: expected validation error, got %v", tc.amount, tc.currency, err)
		}
	}
}

func TestMoneyMinorUnits(t *testing.T) {
	money := NewMoney(decimal.RequireFromString("500.25"), "usd")
	if money.MinorUnits() != 50025 {
		t.Fatalf("expected 50025 minor units, got %d", money.MinorUnits())
	}
	if money.Currency != "USD" {
		t.Fatalf("expected upper-cased currency, got %q", money.Currency)
	}
	if got := MoneyFromMinorUnits(50025, "USD"); !got.Amount.Equal(money.Amount) {
		t.Fatalf("expected round trip amount, got %s", got.Amount)
	}
	if money.String() != "500.25 USD" {
		t.Fatalf("unexpected string %q", money.String())
	}
}
