package core

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
)

var DefaultCurrencies = []string{CurrencyUSD, CurrencyEUR, CurrencyGBP}

var DefaultMaxAmount = decimal.NewFromInt(1_000_000)

type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

func ParseMoney(amount string, currency string) (Money, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("core: invalid amount %q", amount)
	}
	return NewMoney(value, currency), nil
}

// MinorUnits returns the amount in the smallest currency unit (cents, pence).
func (m Money) MinorUnits() int64 {
	return m.Amount.Shift(2).Round(0).IntPart()
}

func MoneyFromMinorUnits(units int64, currency string) Money {
	return NewMoney(decimal.New(units, -2), currency)
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero() && m.Currency == ""
}

// MoneyLimits bounds accepted bounty amounts.
type MoneyLimits struct {
	Max        decimal.Decimal
	Currencies []string
}

func DefaultMoneyLimits() MoneyLimits {
	return MoneyLimits{
		Max:        DefaultMaxAmount,
		Currencies: append([]string(nil), DefaultCurrencies...),
	}
}

func (l MoneyLimits) Validate(m Money) error {
	maximum := l.Max
	if maximum.IsZero() {
		maximum = DefaultMaxAmount
	}
	currencies := l.Currencies
	if len(currencies) == 0 {
		currencies = DefaultCurrencies
	}
	if !m.Amount.IsPositive() {
		return NewValidationError("amount must be greater than zero", "amount")
	}
	if m.Amount.GreaterThan(maximum) {
		return NewValidationError(fmt.Sprintf("amount must not exceed %s", maximum.String()), "amount")
	}
	if !slices.Contains(currencies, strings.ToUpper(m.Currency)) {
		return NewValidationError(
			fmt.Sprintf("currency %q is not supported (use %s)", m.Currency, strings.Join(currencies, ", ")),
			"currency",
		)
	}
	return nil
}
