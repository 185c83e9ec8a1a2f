package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/logger"
)

// Purger drops cache entries too old to be served. *cache.Cache implements it.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Sweeper drops expired in-process state. *linking.MemoryStore implements
// it; Redis expires keys on its own.
type Sweeper interface {
	Sweep() int
}

// GarbageCollector handles cleanup of expired local state
type GarbageCollector struct {
	cache    Purger
	linking  Sweeper
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewGarbageCollector creates a new garbage collector. linking may be nil.
func NewGarbageCollector(
	cache Purger,
	linking Sweeper,
	log logger.Logger,
	interval time.Duration,
) *GarbageCollector {
	return &GarbageCollector{
		cache:    cache,
		linking:  linking,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic garbage collection process
func (gc *GarbageCollector) Start(ctx context.Context) error {
	// Run immediately on start
	if err := gc.Collect(ctx); err != nil {
		gc.logger.Warn("initial garbage collection failed",
			logger.Error(err))
	}

	// Start periodic collection
	ticker := time.NewTicker(gc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := gc.Collect(ctx); err != nil {
					gc.logger.Error("garbage collection failed",
						logger.Error(err))
				}
			case <-gc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the garbage collector
func (gc *GarbageCollector) Stop() {
	close(gc.stopCh)
}

// Collect purges expired cache entries and linking state.
func (gc *GarbageCollector) Collect(ctx context.Context) error {
	gc.logger.Debug("running garbage collection for cache entries and linking state")

	var errs []error
	entries := 0
	if gc.cache != nil {
		n, err := gc.cache.Purge(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge cache: %w", err))
		}
		entries = n
	}

	swept := 0
	if gc.linking != nil {
		swept = gc.linking.Sweep()
	}

	if entries+swept > 0 {
		gc.logger.Info("garbage collection completed",
			logger.Int("cache_entries_deleted", entries),
			logger.Int("linking_entries_deleted", swept))
	} else {
		gc.logger.Debug("no items to garbage collect")
	}

	return errors.Join(errs...)
}
