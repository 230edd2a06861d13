package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/logger"
)

const (
	// DefaultGCInterval is the sweep period when none is configured.
	DefaultGCInterval = time.Minute
)

// Purger is an in-memory table whose stale entries can be dropped.
type Purger interface {
	Purge(now time.Time) int
	Len() int
}

// Sweepable names a Purger for logging.
type Sweepable struct {
	Name   string
	Purger Purger
}

// GarbageCollector periodically bounds the memory of rate-limit windows and caches.
type GarbageCollector struct {
	targets  []Sweepable
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewGarbageCollector creates a new garbage collector
func NewGarbageCollector(
	log logger.Logger,
	interval time.Duration,
	targets ...Sweepable,
) *GarbageCollector {
	if interval <= 0 {
		interval = DefaultGCInterval
	}

	return &GarbageCollector{
		targets:  targets,
		logger:   log,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic garbage collection process
func (gc *GarbageCollector) Start(ctx context.Context) error {
	// Run immediately on start
	gc.Collect()

	// Start periodic collection
	ticker := time.NewTicker(gc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				gc.Collect()
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

// Collect sweeps every target once and returns the number of entries removed.
func (gc *GarbageCollector) Collect() int {
	now := gc.now()
	total := 0

	for _, t := range gc.targets {
		removed := t.Purger.Purge(now)
		if removed > 0 {
			gc.logger.Debug("garbage collected entries",
				logger.String("target", t.Name),
				logger.Int("removed", removed),
				logger.Int("remaining", t.Purger.Len()))
		}
		total += removed
	}

	if total > 0 {
		gc.logger.Info("garbage collection completed",
			logger.Int("total_deleted", total))
	} else {
		gc.logger.Debug("no items to garbage collect")
	}

	return total
}
