package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Currency   CurrencyConfig   `mapstructure:"currency"`
	Validation ValidationConfig `mapstructure:"validation"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
}

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Currency providers
const (
	ProviderHTTP   = "http"
	ProviderStatic = "static"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// MigrationsPath overrides the embedded sqlite migrations when set
	MigrationsPath string `mapstructure:"migrations_path"`
}

// CacheConfig selects the fast cache backend
type CacheConfig struct {
	Driver          string        `mapstructure:"driver"`
	Size            int           `mapstructure:"size"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// DedupConfig holds the dedup marker lifetime
type DedupConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// CurrencyConfig holds normalizer and conversion client settings
type CurrencyConfig struct {
	Provider        string             `mapstructure:"provider"`
	ServiceURL      string             `mapstructure:"service_url"`
	Timeout         time.Duration      `mapstructure:"timeout"`
	FXCacheTTL      time.Duration      `mapstructure:"fx_cache_ttl"`
	BaseCurrencyTTL time.Duration      `mapstructure:"base_currency_ttl"`
	DefaultBase     string             `mapstructure:"default_base"`
	StaticRates     map[string]float64 `mapstructure:"static_rates"`
}

// ValidationConfig holds the approval engine settings
type ValidationConfig struct {
	Timezone         string        `mapstructure:"timezone"`
	PoliciesCacheTTL time.Duration `mapstructure:"policies_cache_ttl"`
	// DefaultPolicies is a JSON policy document used when none is stored
	DefaultPolicies string `mapstructure:"default_policies"`
}

// WorkerConfig sizes the intake pool
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	QueueSize    int           `mapstructure:"queue_size"`
	EventTimeout time.Duration `mapstructure:"event_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from an optional YAML file, .env and the environment.
// Environment variables use the EXPENSE_ prefix (EXPENSE_DATABASE_DRIVER); the
// plain names used by existing deployments (DATABASE_URL, DEDUP_TTL_SECONDS, ...)
// are honored as well.
func Load(configPath string) (*Config, error) {
	_ = gotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXPENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	bindEnvVars(v)
	if err := applyLegacyEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origin", "")

	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/expenses.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_path", "")

	// Cache defaults
	v.SetDefault("cache.driver", DriverMemory)
	v.SetDefault("cache.size", 10000)
	v.SetDefault("cache.janitor_interval", 10*time.Minute)

	v.SetDefault("dedup.ttl", 24*time.Hour)

	// Currency defaults
	v.SetDefault("currency.provider", ProviderHTTP)
	v.SetDefault("currency.service_url", "")
	v.SetDefault("currency.timeout", 10*time.Second)
	v.SetDefault("currency.fx_cache_ttl", 24*time.Hour)
	v.SetDefault("currency.base_currency_ttl", 5*time.Second)
	v.SetDefault("currency.default_base", "")

	// Validation defaults
	v.SetDefault("validation.timezone", "UTC")
	v.SetDefault("validation.policies_cache_ttl", 5*time.Second)
	v.SetDefault("validation.default_policies", "")

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.event_timeout", time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the unprefixed variable names to configuration keys
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("server.port", "EXPENSE_SERVER_PORT", "PORT")
	_ = v.BindEnv("database.url", "EXPENSE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("currency.service_url", "EXPENSE_CURRENCY_SERVICE_URL", "CURRENCY_SERVICE_URL")
	_ = v.BindEnv("currency.default_base", "EXPENSE_CURRENCY_DEFAULT_BASE", "BASE_CURRENCY")
	_ = v.BindEnv("validation.timezone", "EXPENSE_VALIDATION_TIMEZONE", "APP_TIMEZONE")
	_ = v.BindEnv("validation.default_policies", "EXPENSE_VALIDATION_DEFAULT_POLICIES", "DEFAULT_POLICIES")
}

// applyLegacyEnv maps the integer second/millisecond variables onto duration keys
func applyLegacyEnv(v *viper.Viper) error {
	durations := []struct {
		env  string
		key  string
		unit time.Duration
	}{
		{"DEDUP_TTL_SECONDS", "dedup.ttl", time.Second},
		{"FX_CACHE_TTL_SECONDS", "currency.fx_cache_ttl", time.Second},
		{"HTTP_TIMEOUT_MS", "currency.timeout", time.Millisecond},
		{"POLICIES_CACHE_TTL_MS", "validation.policies_cache_ttl", time.Millisecond},
	}
	for _, d := range durations {
		raw, ok := os.LookupEnv(d.env)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", d.env, err)
		}
		v.Set(d.key, time.Duration(n)*d.unit)
	}

	if raw, ok := os.LookupEnv("DEFAULT_RATES"); ok && strings.TrimSpace(raw) != "" {
		var rates map[string]float64
		if err := json.Unmarshal([]byte(raw), &rates); err != nil {
			return fmt.Errorf("DEFAULT_RATES must be a JSON object of rates: %w", err)
		}
		// Keys read from files come back lowercased; match them
		lowered := make(map[string]float64, len(rates))
		for pair, rate := range rates {
			lowered[strings.ToLower(pair)] = rate
		}
		v.Set("currency.static_rates", lowered)
	}
	return nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Cache.Driver = strings.ToLower(strings.TrimSpace(c.Cache.Driver))
	c.Currency.Provider = strings.ToLower(strings.TrimSpace(c.Currency.Provider))
	c.Currency.DefaultBase = strings.ToUpper(strings.TrimSpace(c.Currency.DefaultBase))
}

// Location returns the validation timezone
func (c *Config) Location() (*time.Location, error) {
	tz := c.Validation.Timezone
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid validation.timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %s or %s, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	switch c.Cache.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Database.Driver != DriverSQLite {
			return fmt.Errorf("cache.driver sqlite requires database.driver sqlite")
		}
	default:
		return fmt.Errorf("cache.driver must be %s or %s, got %q", DriverMemory, DriverSQLite, c.Cache.Driver)
	}

	switch c.Currency.Provider {
	case ProviderHTTP:
		if c.Currency.ServiceURL == "" {
			return fmt.Errorf("currency.service_url is required for the http provider")
		}
	case ProviderStatic:
	default:
		return fmt.Errorf("currency.provider must be %s or %s, got %q", ProviderHTTP, ProviderStatic, c.Currency.Provider)
	}

	if c.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup.ttl must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
