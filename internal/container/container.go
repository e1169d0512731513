package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-pipeline/internal/application/currency"
	"github.com/garyjia/expense-pipeline/internal/application/dedup"
	"github.com/garyjia/expense-pipeline/internal/application/dispatcher"
	"github.com/garyjia/expense-pipeline/internal/application/jobrun"
	"github.com/garyjia/expense-pipeline/internal/application/pipeline"
	"github.com/garyjia/expense-pipeline/internal/application/policy"
	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/application/validation"
	"github.com/garyjia/expense-pipeline/internal/config"
	"github.com/garyjia/expense-pipeline/internal/infrastructure/worker"
	"github.com/garyjia/expense-pipeline/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components are built in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure
	stores   *StoreBundle
	caches   *CacheBundle
	currency port.CurrencyService

	// Application
	policies     *policy.Provider
	normalizer   *currency.Normalizer
	gate         *dedup.Gate
	validation   *validation.Service
	tracker      *jobrun.Tracker
	orchestrator *pipeline.Orchestrator
	dispatcher   dispatcher.Dispatcher

	// Workers
	intake  *worker.IntakeWorker
	workers *worker.Manager

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// New creates a container. Call Start to build and start the components.
func New(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start builds every component and starts the workers.
// On failure, whatever was already opened is released.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infrastructure", c.initInfrastructure},
		{"services", c.initServices},
		{"dispatcher", c.initDispatcher},
		{"workers", c.initWorkers},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			c.teardown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close stops workers, drains the dispatcher and closes the database.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}
	c.logger.Info("Closing container")

	err := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil && !errors.Is(err, dispatcher.ErrClosed) {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}
	if c.stores != nil {
		if err := c.stores.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.stores = nil
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	if c.stores == nil {
		set("database", false, "not initialized")
	} else if err := c.stores.Ping(ctx); err != nil {
		set("database", false, fmt.Sprintf("ping failed: %v", err))
	} else {
		set("database", true, c.config.Database.Driver)
	}

	if c.workers == nil {
		set("workers", false, "not initialized")
	} else {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.Count()))
	}

	if c.intake != nil {
		stats := c.intake.Stats()
		set("intake", true, fmt.Sprintf("queued: %d, processed: %d, failed: %d", stats.Queued, stats.Processed, stats.Failed))
	}

	return status
}

func (c *Container) initInfrastructure(ctx context.Context) error {
	stores, err := ProvideStores(ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.stores = stores

	caches, err := ProvideCache(&c.config.Cache, stores, c.logger)
	if err != nil {
		return err
	}
	c.caches = caches

	svc, err := ProvideCurrencyService(&c.config.Currency, c.logger)
	if err != nil {
		return err
	}
	c.currency = svc
	return nil
}

func (c *Container) initServices(context.Context) error {
	cfg := c.config

	defaults, err := policy.ParseDefaults(cfg.Validation.DefaultPolicies)
	if err != nil {
		return err
	}
	c.policies = policy.NewProvider(c.stores.Policies, defaults, cfg.Validation.PoliciesCacheTTL, c.logger)

	c.normalizer = currency.NewNormalizer(c.policies, c.caches.Cache, c.currency, c.logger,
		currency.WithDefaultBase(cfg.Currency.DefaultBase),
		currency.WithBaseCurrencyTTL(cfg.Currency.BaseCurrencyTTL),
		currency.WithFXCacheTTL(cfg.Currency.FXCacheTTL),
	)

	c.gate = dedup.NewGate(c.caches.Cache, c.stores.Expenses, cfg.Dedup.TTL, c.logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	c.validation = validation.NewService(validation.NewEngine(c.logger), c.policies, loc, c.logger)

	c.tracker = jobrun.NewTracker(c.stores.JobRuns, c.logger)
	c.orchestrator = pipeline.NewOrchestrator(c.tracker, c.gate, c.normalizer, c.validation, c.stores.Expenses, c.logger)
	return nil
}

func (c *Container) initDispatcher(context.Context) error {
	c.dispatcher = dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKeyValueLogger(c.logger)))
	return pipeline.RegisterHandlers(c.dispatcher, c.orchestrator)
}

func (c *Container) initWorkers(ctx context.Context) error {
	c.workers = worker.NewManager(c.logger)

	c.intake = worker.NewIntakeWorker(worker.IntakeConfig{
		Concurrency:  c.config.Worker.Concurrency,
		QueueSize:    c.config.Worker.QueueSize,
		EventTimeout: c.config.Worker.EventTimeout,
	}, c.dispatcher, c.logger)
	c.workers.Register(c.intake)

	if c.caches.Purger != nil {
		c.workers.Register(worker.NewCacheJanitor(c.caches.Purger, c.config.Cache.JanitorInterval, c.logger))
	}

	return c.workers.StartAll(ctx)
}

// Orchestrator returns the pipeline orchestrator.
func (c *Container) Orchestrator() *pipeline.Orchestrator {
	return c.orchestrator
}

// Intake returns the asynchronous intake pool.
func (c *Container) Intake() *worker.IntakeWorker {
	return c.intake
}

// Validation returns the standalone validation service.
func (c *Container) Validation() *validation.Service {
	return c.validation
}

// Policies returns the policy provider.
func (c *Container) Policies() *policy.Provider {
	return c.policies
}

// Tracker returns the job run tracker.
func (c *Container) Tracker() *jobrun.Tracker {
	return c.tracker
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// ShutdownTimeout bounds Close when called from a signal handler
func (c *Container) ShutdownTimeout() time.Duration {
	if c.config.Server.ShutdownTimeout > 0 {
		return c.config.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
