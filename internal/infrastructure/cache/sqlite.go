package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"go.uber.org/zap"
)

// SQLiteCache keeps entries in the cache_entries table so markers survive restarts
type SQLiteCache struct {
	db         *sql.DB
	defaultTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewSQLiteCache creates a cache over an open database with the schema applied
func NewSQLiteCache(db *sql.DB, defaultTTL time.Duration, logger *zap.Logger) *SQLiteCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &SQLiteCache{
		db:         db,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides time.Now
func (c *SQLiteCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		"SELECT value FROM cache_entries WHERE key = ? AND expires_at > ?",
		key, c.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, c.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Purge deletes expired entries and returns how many were removed
func (c *SQLiteCache) Purge(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at <= ?", c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if removed > 0 {
		c.logger.Debug("Purged expired cache entries", zap.Int64("removed", removed))
	}
	return removed, nil
}

var _ port.Cache = (*SQLiteCache)(nil)
