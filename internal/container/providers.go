// Package container wires the pipeline from configuration and owns its lifecycle.
package container

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/config"
	"github.com/garyjia/expense-pipeline/internal/infrastructure/cache"
	"github.com/garyjia/expense-pipeline/internal/infrastructure/external/currency"
	"github.com/garyjia/expense-pipeline/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/expense-pipeline/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-pipeline/pkg/database"
)

// StoreBundle holds the durable stores of the selected backend
type StoreBundle struct {
	Expenses port.ExpenseStore
	JobRuns  port.JobRunRepository
	Policies port.PolicyRepository

	// Exactly one of these is set
	SQLite   *database.DB
	Postgres *pgxpool.Pool
}

// Ping checks the underlying connection
func (b *StoreBundle) Ping(ctx context.Context) error {
	switch {
	case b.SQLite != nil:
		return b.SQLite.PingContext(ctx)
	case b.Postgres != nil:
		return b.Postgres.Ping(ctx)
	default:
		return fmt.Errorf("no database configured")
	}
}

// Close releases the connection
func (b *StoreBundle) Close() error {
	switch {
	case b.SQLite != nil:
		return b.SQLite.Close()
	case b.Postgres != nil:
		b.Postgres.Close()
	}
	return nil
}

// ProvideStores opens the configured database, migrates it and builds the stores
func ProvideStores(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPgxPool(ctx, database.PostgresConfig{
			URL:             cfg.URL,
			MaxConns:        int32(cfg.MaxOpenConns),
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &StoreBundle{
			Expenses: postgres.NewExpenseRepository(pool, logger),
			JobRuns:  postgres.NewJobRunRepository(pool, logger),
			Policies: postgres.NewPolicyRepository(pool, logger),
			Postgres: pool,
		}, nil

	case config.DriverSQLite:
		db, err := database.New(database.Config{
			Path:            cfg.Path,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := database.NewMigrator(db, logger).RunMigrations(cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		tx := sqlite.NewDB(db.DB, logger)
		return &StoreBundle{
			Expenses: sqlite.NewExpenseRepository(tx, logger),
			JobRuns:  sqlite.NewJobRunRepository(tx, logger),
			Policies: sqlite.NewPolicyRepository(tx, logger),
			SQLite:   db,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// CacheBundle holds the fast cache and, for persistent backends, its purger
type CacheBundle struct {
	Cache  port.Cache
	Purger *cache.SQLiteCache
}

// ProvideCache builds the configured cache backend
func ProvideCache(cfg *config.CacheConfig, stores *StoreBundle, logger *zap.Logger) (*CacheBundle, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return &CacheBundle{Cache: cache.NewMemoryCache(cfg.Size, cache.DefaultTTL)}, nil
	case config.DriverSQLite:
		if stores.SQLite == nil {
			return nil, fmt.Errorf("sqlite cache requires the sqlite database driver")
		}
		c := cache.NewSQLiteCache(stores.SQLite.DB, cache.DefaultTTL, logger)
		return &CacheBundle{Cache: c, Purger: c}, nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
	}
}

// ProvideCurrencyService builds the conversion client
func ProvideCurrencyService(cfg *config.CurrencyConfig, logger *zap.Logger) (port.CurrencyService, error) {
	switch cfg.Provider {
	case config.ProviderHTTP:
		return currency.NewHTTPClient(cfg.ServiceURL, cfg.Timeout, logger), nil
	case config.ProviderStatic:
		rates, err := currency.NewStaticRates(cfg.StaticRates)
		if err != nil {
			return nil, fmt.Errorf("invalid static rates: %w", err)
		}
		return rates, nil
	default:
		return nil, fmt.Errorf("unsupported currency provider %q", cfg.Provider)
	}
}
