package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/expense-pipeline/internal/domain/event"
)

var (
	ErrClosed           = errors.New("dispatcher is closed")
	ErrNoHandlers       = errors.New("no handler registered for event type")
	ErrDuplicateHandler = errors.New("handler name already registered")
)

// Dispatcher routes intake events to registered handlers
type Dispatcher interface {
	// Register adds a handler. Names are unique per event type.
	Register(info HandlerInfo) error

	// Dispatch runs every handler for the event type in registration order.
	// Returns the first error; later handlers are not run.
	Dispatch(ctx context.Context, evt *event.Event) error

	// Handles reports whether at least one handler exists for the type
	Handles(eventType event.Type) bool

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close rejects new dispatches and waits for in-flight ones
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger
	closed   bool
	inflight sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *eventDispatcher) Register(info HandlerInfo) error {
	if info.Handler == nil {
		return fmt.Errorf("handler %q for %s is nil", info.Name, info.EventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if info.Name == "" {
		info.Name = fmt.Sprintf("handler-%d", len(d.handlers[info.EventType]))
	}
	for _, h := range d.handlers[info.EventType] {
		if h.Name == info.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateHandler, info.Name)
		}
	}

	d.handlers[info.EventType] = append(d.handlers[info.EventType], info)

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"event_type", info.EventType,
			"handler_name", info.Name,
		)
	}
	return nil
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	handlers := d.handlers[evt.Type]
	d.inflight.Add(1)
	d.mu.RUnlock()
	defer d.inflight.Done()

	if len(handlers) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandlers, evt.Type)
	}

	if d.logger != nil {
		d.logger.Info("Dispatching event",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"correlation_id", evt.CorrelationID,
			"handler_count", len(handlers),
		)
	}

	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}

	return nil
}

func (d *eventDispatcher) Handles(eventType event.Type) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType]) > 0
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))

	for i, h := range handlers {
		// Handler func is left out
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}

	return result
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for in-flight events")
	}

	d.inflight.Wait()

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}

	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
					"panic", r,
				)
			}
		}
	}()

	return info.Handler(ctx, evt)
}
