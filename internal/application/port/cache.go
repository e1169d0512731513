package port

import (
	"context"
	"time"
)

// Cache is a fast key/value store with per-entry expiry.
// A zero ttl means the backend default.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}
