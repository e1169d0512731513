// Package policy resolves the approval policies currently in force.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DefaultCacheTTL is how long a resolved document is reused
const DefaultCacheTTL = 5 * time.Second

var validate = validator.New()

// Validate checks a policy document's structure and thresholds
func Validate(p *entity.Policies) error {
	if p == nil {
		return &entity.ValidationInputError{Field: "politicas", Reason: "document is empty"}
	}
	if err := validate.Struct(p); err != nil {
		return &entity.ValidationInputError{Field: "politicas", Reason: err.Error(), Err: err}
	}
	return nil
}

// ParseDefaults decodes the configured fallback document. Blank input yields nil.
func ParseDefaults(raw string) (*entity.Policies, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var p entity.Policies
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("default policies must be valid JSON: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, fmt.Errorf("default policies are invalid: %w", err)
	}
	return &p, nil
}

// Provider reads the stored document first and the configured defaults second.
// Both hits and misses are cached for the TTL.
type Provider struct {
	repo     port.PolicyRepository
	defaults *entity.Policies
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	cached    *entity.Policies
	fetchedAt time.Time
}

// NewProvider creates a provider. defaults may be nil.
func NewProvider(repo port.PolicyRepository, defaults *entity.Policies, ttl time.Duration, logger *zap.Logger) *Provider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Provider{
		repo:     repo,
		defaults: defaults,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides time.Now
func (p *Provider) SetClock(now func() time.Time) {
	p.now = now
}

// Current returns the policies in force or entity.ErrNoPolicies
func (p *Provider) Current(ctx context.Context) (*entity.Policies, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.fetchedAt.IsZero() && now.Sub(p.fetchedAt) < p.ttl {
		return p.result()
	}

	stored, err := p.repo.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	if stored != nil {
		p.cached = stored
	} else {
		p.cached = p.defaults
	}
	p.fetchedAt = now

	return p.result()
}

func (p *Provider) result() (*entity.Policies, error) {
	if p.cached == nil {
		return nil, entity.ErrNoPolicies
	}
	return p.cached, nil
}

// Save validates and stores a new document, then drops the cached one
func (p *Provider) Save(ctx context.Context, policies *entity.Policies) error {
	if err := Validate(policies); err != nil {
		return err
	}
	policies.BaseCurrency = strings.ToUpper(policies.BaseCurrency)

	if err := p.repo.SaveCurrent(ctx, policies); err != nil {
		return fmt.Errorf("failed to save policies: %w", err)
	}

	p.Invalidate()
	p.logger.Info("Policies updated",
		zap.String("base_currency", policies.BaseCurrency),
		zap.Int("category_count", len(policies.CategoryLimits)),
		zap.Int("cost_center_rule_count", len(policies.CostCenterRules)))
	return nil
}

// Invalidate forces the next Current call to reload
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
	p.fetchedAt = time.Time{}
}
