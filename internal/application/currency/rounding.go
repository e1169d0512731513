package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists currencies that have no minor unit in practice
var zeroDecimal = map[string]bool{
	"CLP": true,
	"JPY": true,
	"KRW": true,
	"PYG": true,
	"VND": true,
	"ISK": true,
	"UGX": true,
	"XAF": true,
	"XOF": true,
}

// IsZeroDecimal reports whether amounts in code are rounded to whole units
func IsZeroDecimal(code string) bool {
	return zeroDecimal[strings.ToUpper(code)]
}

// Round applies the base-currency rounding policy: whole units for
// zero-decimal currencies, one decimal place otherwise. Halves round away from zero.
func Round(amount decimal.Decimal, baseCurrency string) decimal.Decimal {
	if IsZeroDecimal(baseCurrency) {
		return amount.Round(0)
	}
	return amount.Round(1)
}

// RoundFloat is Round for float inputs
func RoundFloat(amount float64, baseCurrency string) float64 {
	return Round(decimal.NewFromFloat(amount), baseCurrency).InexactFloat64()
}

// Apply multiplies amount by rate and rounds for the base currency
func Apply(amount, rate float64, baseCurrency string) float64 {
	product := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate))
	return Round(product, baseCurrency).InexactFloat64()
}

// DeriveRate returns base/original, or nil when original is zero
func DeriveRate(baseAmount, originalAmount float64) *float64 {
	if originalAmount == 0 {
		return nil
	}
	rate := decimal.NewFromFloat(baseAmount).
		DivRound(decimal.NewFromFloat(originalAmount), 12).
		InexactFloat64()
	return &rate
}
