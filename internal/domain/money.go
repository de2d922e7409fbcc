package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit; the amount is already the smallest unit.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MaxMinorUnits is the largest single charge the provider accepts, in minor units.
const MaxMinorUnits = 99999999

// MinorUnitExponent returns the number of decimal places in one major unit of currency.
func MinorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// ToMinorUnits converts a decimal amount in major units to integer minor units,
// rounding half away from zero. This is the only place rounding happens.
// Callers must bound the amount first; IntPart keeps only the low 64 bits.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return roundMinor(amount, currency).IntPart()
}

func roundMinor(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Shift(MinorUnitExponent(currency)).Round(0)
}

// FromMinorUnits converts integer minor units back to a decimal major-unit amount.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExponent(currency))
}

// ParseAmount parses a decimal string such as "19.99" into minor units and
// validates that the result is a positive charge no larger than MaxMinorUnits.
func ParseAmount(op, raw, currency string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, NewValidationError(op, "amount", "must be a decimal number")
	}
	minor := roundMinor(amount, currency)
	if !minor.IsPositive() {
		return 0, NewValidationError(op, "amount", "must be a positive amount")
	}
	if minor.GreaterThan(decimal.NewFromInt(MaxMinorUnits)) {
		return 0, NewValidationError(op, "amount", "exceeds the maximum invoice amount")
	}
	return minor.IntPart(), nil
}
