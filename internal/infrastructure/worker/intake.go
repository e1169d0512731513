package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/garyjia/expense-pipeline/internal/domain/event"
	"go.uber.org/zap"
)

// Dispatcher delivers an intake event to its handlers
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *event.Event) error
}

// IntakeConfig sizes the intake pool
type IntakeConfig struct {
	Concurrency int
	QueueSize   int
	// EventTimeout bounds one event's processing; zero means no bound
	EventTimeout time.Duration
}

// DefaultIntakeConfig returns the default pool size
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		Concurrency: 4,
		QueueSize:   256,
	}
}

// IntakeStats is a snapshot of the pool counters
type IntakeStats struct {
	Queued    int   `json:"queued"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// IntakeWorker processes submitted events on a fixed number of goroutines.
// Each event is an independent task; no ordering is kept between events.
type IntakeWorker struct {
	config     IntakeConfig
	dispatcher Dispatcher
	logger     *zap.Logger

	mu      sync.RWMutex
	queue   chan *event.Event
	running bool
	wg      sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// NewIntakeWorker creates an intake pool. Call Start before Submit.
func NewIntakeWorker(config IntakeConfig, dispatcher Dispatcher, logger *zap.Logger) *IntakeWorker {
	defaults := DefaultIntakeConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	return &IntakeWorker{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Name implements Worker
func (w *IntakeWorker) Name() string {
	return "IntakeWorker"
}

// Start launches the pool. Events already queued when ctx is cancelled are
// still drained by Stop, detached from the cancellation.
func (w *IntakeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("intake worker already running")
	}

	w.queue = make(chan *event.Event, w.config.QueueSize)
	w.running = true

	base := context.WithoutCancel(ctx)
	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(base, w.queue)
	}

	w.logger.Info("IntakeWorker started",
		zap.Int("concurrency", w.config.Concurrency),
		zap.Int("queue_size", w.config.QueueSize))
	return nil
}

// Stop closes the queue and waits for queued events to finish
func (w *IntakeWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("IntakeWorker stopped",
		zap.Int64("processed_count", w.processed.Load()),
		zap.Int64("failed_count", w.failed.Load()))
	return nil
}

// Submit enqueues an event without blocking.
// Returns entity.ErrQueueFull when the queue is at capacity and
// entity.ErrQueueClosed when the pool is not running.
func (w *IntakeWorker) Submit(evt *event.Event) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.running {
		return entity.ErrQueueClosed
	}

	select {
	case w.queue <- evt:
		return nil
	default:
		w.logger.Warn("Intake queue full, rejecting event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)))
		return entity.ErrQueueFull
	}
}

// Stats returns the current counters
func (w *IntakeWorker) Stats() IntakeStats {
	w.mu.RLock()
	queued := 0
	if w.queue != nil {
		queued = len(w.queue)
	}
	w.mu.RUnlock()
	return IntakeStats{
		Queued:    queued,
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
}

func (w *IntakeWorker) loop(ctx context.Context, queue <-chan *event.Event) {
	defer w.wg.Done()
	for evt := range queue {
		w.handle(ctx, evt)
	}
}

func (w *IntakeWorker) handle(ctx context.Context, evt *event.Event) {
	if w.config.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.EventTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.dispatcher.Dispatch(ctx, evt)
	w.processed.Add(1)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("Intake event failed",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	w.logger.Debug("Intake event processed",
		zap.String("event_id", evt.ID),
		zap.Duration("elapsed", time.Since(start)))
}
