package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Purger removes expired entries and reports how many were dropped
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// DefaultJanitorInterval is how often expired cache rows are removed
const DefaultJanitorInterval = 10 * time.Minute

// CacheJanitor periodically purges expired rows from a persistent cache
type CacheJanitor struct {
	purger   Purger
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewCacheJanitor creates a janitor; a non-positive interval uses the default
func NewCacheJanitor(purger Purger, interval time.Duration, logger *zap.Logger) *CacheJanitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &CacheJanitor{
		purger:   purger,
		interval: interval,
		logger:   logger,
	}
}

// Name implements Worker
func (j *CacheJanitor) Name() string {
	return "CacheJanitor"
}

// Start begins the purge loop
func (j *CacheJanitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return fmt.Errorf("cache janitor already running")
	}

	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	j.running = true
	go j.loop(ctx, j.done)

	j.logger.Info("CacheJanitor started", zap.Duration("interval", j.interval))
	return nil
}

// Stop ends the loop and waits for an in-progress purge
func (j *CacheJanitor) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	cancel, done := j.cancel, j.done
	j.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (j *CacheJanitor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.purge(ctx)
		}
	}
}

func (j *CacheJanitor) purge(ctx context.Context) {
	n, err := j.purger.Purge(ctx)
	if err != nil {
		j.logger.Error("Failed to purge cache", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Debug("Purged expired cache entries", zap.Int64("removed", n))
	}
}
