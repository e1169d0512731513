package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

// DefaultTTL is how long a cache marker suppresses repeats
const DefaultTTL = 24 * time.Hour

// Decision is the outcome of Admit
type Decision struct {
	Admitted bool
	Reason   string
	Key      string
	// FromStore is set when the durable store, not the cache, found the duplicate
	FromStore bool
}

// Gate admits or rejects fingerprints using the fast cache first and the
// expense store second. The cache check and the marker write are two calls,
// so concurrent deliveries of one fingerprint can both be admitted.
type Gate struct {
	cache  port.Cache
	store  port.ExpenseStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewGate creates a gate. A non-positive ttl falls back to DefaultTTL.
func NewGate(cache port.Cache, store port.ExpenseStore, ttl time.Duration, logger *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{
		cache:  cache,
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// TTL returns the marker lifetime
func (g *Gate) TTL() time.Duration {
	return g.ttl
}

// Key scopes a fingerprint. The same content may be processed once per scope.
func Key(scope, fingerprint string) string {
	if scope == "" {
		return fingerprint
	}
	return scope + ":" + fingerprint
}

// Admit checks the scoped cache key, then the store by bare fingerprint.
// Only an admitted fingerprint gets a cache marker.
func (g *Gate) Admit(ctx context.Context, scope, fingerprint string) (*Decision, error) {
	key := Key(scope, fingerprint)

	seen, err := g.cache.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check dedup cache: %w", err)
	}
	if seen {
		g.logger.Warn("Duplicate fingerprint in cache, skipping",
			zap.String("fingerprint", fingerprint),
			zap.String("dedup_key", key))
		return &Decision{Reason: entity.ReasonDuplicateFingerprint, Key: key}, nil
	}

	persisted, err := g.store.ExistsByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to check expense store: %w", err)
	}
	if persisted {
		g.logger.Warn("Duplicate fingerprint in store, keeping for audit",
			zap.String("fingerprint", fingerprint),
			zap.String("dedup_key", key))
		return &Decision{Reason: entity.ReasonDuplicateFingerprintDB, Key: key, FromStore: true}, nil
	}

	if err := g.cache.Set(ctx, key, "1", g.ttl); err != nil {
		return nil, fmt.Errorf("failed to write dedup marker: %w", err)
	}

	return &Decision{Admitted: true, Key: key}, nil
}
