package currency

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// SourceStatic is reported for rates taken from the configured table
const SourceStatic = "static"

// StaticRates serves conversions from a fixed FROM_TO rate table.
// Used offline and in tests; the inverse pair is derived when only one direction is configured.
type StaticRates struct {
	rates map[string]decimal.Decimal
}

// NewStaticRates builds a provider from keys such as "USD_CLP".
// Non-positive rates are rejected.
func NewStaticRates(table map[string]float64) (*StaticRates, error) {
	rates := make(map[string]decimal.Decimal, len(table))
	for pair, rate := range table {
		from, to, ok := splitPair(pair)
		if !ok {
			return nil, fmt.Errorf("invalid currency pair %q", pair)
		}
		if rate <= 0 {
			return nil, fmt.Errorf("invalid rate for %s: %v", pair, rate)
		}
		rates[pairKey(from, to)] = decimal.NewFromFloat(rate)
	}
	return &StaticRates{rates: rates}, nil
}

// Convert implements port.CurrencyService
func (s *StaticRates) Convert(_ context.Context, req port.ConversionRequest) (*port.ConversionResult, error) {
	from := strings.ToUpper(strings.TrimSpace(req.FromCurrency))
	to := strings.ToUpper(strings.TrimSpace(req.ToCurrency))

	rate, ok := s.lookup(from, to)
	if !ok {
		return nil, &entity.ConversionServiceError{
			From: from,
			To:   to,
			Err:  fmt.Errorf("%w: %s", entity.ErrUnknownCurrencyPair, pairKey(from, to)),
		}
	}

	r, _ := rate.Float64()
	base, _ := decimal.NewFromFloat(req.Amount).Mul(rate).Float64()
	return &port.ConversionResult{
		BaseAmount: base,
		Rate:       &r,
		Source:     SourceStatic,
	}, nil
}

func (s *StaticRates) lookup(from, to string) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}
	if rate, ok := s.rates[pairKey(from, to)]; ok {
		return rate, true
	}
	if inverse, ok := s.rates[pairKey(to, from)]; ok {
		return decimal.NewFromInt(1).DivRound(inverse, 12), true
	}
	return decimal.Decimal{}, false
}

func splitPair(pair string) (string, string, bool) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(pair)), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func pairKey(from, to string) string {
	return from + "_" + to
}
