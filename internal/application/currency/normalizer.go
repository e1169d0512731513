// Package currency resolves base-currency amounts for expenses.
package currency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

const (
	DefaultBaseCurrencyTTL = 5 * time.Second
	DefaultFXCacheTTL      = 24 * time.Hour
)

// Result is a resolved conversion
type Result struct {
	BaseAmount   float64
	Rate         *float64
	Source       string
	BaseCurrency string
	// UpstreamSource is the rate source reported by the conversion service, if any
	UpstreamSource string
}

// Normalizer converts amounts into the policy base currency.
// Lookup order: identity, rate cache, conversion service.
type Normalizer struct {
	policies    port.PolicySource
	cache       port.Cache
	service     port.CurrencyService
	logger      *zap.Logger
	defaultBase string
	baseTTL     time.Duration
	fxTTL       time.Duration
	now         func() time.Time

	mu          sync.Mutex
	cachedBase  string
	baseFetched time.Time
}

// Option configures the normalizer
type Option func(*Normalizer)

// WithDefaultBase sets the base currency used when policies do not name one
func WithDefaultBase(code string) Option {
	return func(n *Normalizer) {
		n.defaultBase = strings.ToUpper(strings.TrimSpace(code))
	}
}

// WithBaseCurrencyTTL sets how long a resolved base currency is reused
func WithBaseCurrencyTTL(ttl time.Duration) Option {
	return func(n *Normalizer) {
		if ttl > 0 {
			n.baseTTL = ttl
		}
	}
}

// WithFXCacheTTL sets the lifetime of cached exchange rates
func WithFXCacheTTL(ttl time.Duration) Option {
	return func(n *Normalizer) {
		if ttl > 0 {
			n.fxTTL = ttl
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// NewNormalizer creates a normalizer
func NewNormalizer(policies port.PolicySource, cache port.Cache, service port.CurrencyService, logger *zap.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		policies: policies,
		cache:    cache,
		service:  service,
		logger:   logger,
		baseTTL:  DefaultBaseCurrencyTTL,
		fxTTL:    DefaultFXCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// BaseCurrency returns the configured base currency, or from when nothing is configured
func (n *Normalizer) BaseCurrency(ctx context.Context, from string) (string, error) {
	base, err := n.resolveBase(ctx)
	if err != nil {
		return "", err
	}
	if base == "" {
		return strings.ToUpper(from), nil
	}
	return base, nil
}

func (n *Normalizer) resolveBase(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if !n.baseFetched.IsZero() && now.Sub(n.baseFetched) < n.baseTTL {
		return n.cachedBase, nil
	}

	base := n.defaultBase
	policies, err := n.policies.Current(ctx)
	switch {
	case err == nil && policies != nil && strings.TrimSpace(policies.BaseCurrency) != "":
		base = strings.ToUpper(strings.TrimSpace(policies.BaseCurrency))
	case err != nil && !errors.Is(err, entity.ErrNoPolicies):
		return "", fmt.Errorf("failed to resolve base currency: %w", err)
	}

	n.cachedBase = base
	n.baseFetched = now
	return base, nil
}

// Convert resolves amount in from into the base currency. date may be empty.
func (n *Normalizer) Convert(ctx context.Context, amount float64, from, date string) (*Result, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	base, err := n.BaseCurrency(ctx, from)
	if err != nil {
		return nil, err
	}

	if from == "" || from == base {
		one := 1.0
		return &Result{
			BaseAmount:   RoundFloat(amount, base),
			Rate:         &one,
			Source:       entity.RateSourceIdentity,
			BaseCurrency: base,
		}, nil
	}

	key := CacheKey(base, from, date)
	if rate, ok := n.cachedRate(ctx, key); ok {
		return &Result{
			BaseAmount:   Apply(amount, rate, base),
			Rate:         &rate,
			Source:       entity.RateSourceCache,
			BaseCurrency: base,
		}, nil
	}

	res, err := n.service.Convert(ctx, port.ConversionRequest{
		Amount:       amount,
		FromCurrency: from,
		ToCurrency:   base,
		Date:         date,
	})
	if err != nil {
		var convErr *entity.ConversionServiceError
		if errors.As(err, &convErr) {
			return nil, err
		}
		return nil, &entity.ConversionServiceError{From: from, To: base, Err: err}
	}
	if res == nil || math.IsNaN(res.BaseAmount) || math.IsInf(res.BaseAmount, 0) {
		return nil, &entity.ConversionServiceError{From: from, To: base, Err: entity.ErrInvalidRatePayload}
	}

	rate := res.Rate
	if rate == nil {
		rate = DeriveRate(res.BaseAmount, amount)
	}

	out := &Result{
		Rate:           rate,
		Source:         entity.RateSourceAPI,
		BaseCurrency:   base,
		UpstreamSource: res.Source,
	}
	if validRate(rate) {
		out.BaseAmount = Apply(amount, *rate, base)
		n.storeRate(ctx, key, *rate)
	} else {
		out.BaseAmount = RoundFloat(res.BaseAmount, base)
	}

	return out, nil
}

// NormalizePrecomputed rounds an upstream base amount and back-derives the
// rate when upstream did not send one.
func (n *Normalizer) NormalizePrecomputed(ctx context.Context, originalAmount, baseAmount float64, rate *float64, from string) (*Result, error) {
	base, err := n.BaseCurrency(ctx, from)
	if err != nil {
		return nil, err
	}

	rounded := RoundFloat(baseAmount, base)
	if rate == nil {
		rate = DeriveRate(rounded, originalAmount)
	}

	return &Result{
		BaseAmount:   rounded,
		Rate:         rate,
		Source:       entity.RateSourcePrecomputed,
		BaseCurrency: base,
	}, nil
}

func (n *Normalizer) cachedRate(ctx context.Context, key string) (float64, bool) {
	raw, found, err := n.cache.Get(ctx, key)
	if err != nil {
		n.logger.Warn("Failed to read rate cache", zap.String("cache_key", key), zap.Error(err))
		return 0, false
	}
	if !found {
		return 0, false
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || !validRate(&rate) {
		n.logger.Debug("Ignoring unusable cached rate", zap.String("cache_key", key), zap.String("value", raw))
		return 0, false
	}
	return rate, true
}

func (n *Normalizer) storeRate(ctx context.Context, key string, rate float64) {
	value := strconv.FormatFloat(rate, 'g', -1, 64)
	if err := n.cache.Set(ctx, key, value, n.fxTTL); err != nil {
		n.logger.Warn("Failed to cache exchange rate", zap.String("cache_key", key), zap.Error(err))
	}
}

// CacheKey builds the rate cache key fx:BASE:FROM:date, with "latest" for an empty date
func CacheKey(base, from, date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		date = "latest"
	}
	return fmt.Sprintf("fx:%s:%s:%s", strings.ToUpper(base), strings.ToUpper(from), date)
}

func validRate(rate *float64) bool {
	return rate != nil && !math.IsNaN(*rate) && !math.IsInf(*rate, 0) && *rate > 0
}
