package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/updates"
)

// DefaultRefreshInterval is how often the refresher checks the snapshot age.
const DefaultRefreshInterval = 6 * time.Hour

// UpdateRefresher keeps the image update snapshot warm in the background.
// It only refreshes when the cached snapshot is missing or stale.
type UpdateRefresher struct {
	builder  *updates.Builder
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
	done     chan struct{}
}

// NewUpdateRefresher creates a new refresher
func NewUpdateRefresher(builder *updates.Builder, log logger.Logger, interval time.Duration) *UpdateRefresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &UpdateRefresher{
		builder:  builder,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start warms the snapshot in the background, then again on every tick.
// Unlike the other schedulers the first run does not block startup since a
// full refresh talks to every registry.
func (ur *UpdateRefresher) Start(ctx context.Context) error {
	ticker := time.NewTicker(ur.interval)
	go func() {
		defer close(ur.done)
		defer ticker.Stop()

		ur.Warm(ctx)
		for {
			select {
			case <-ticker.C:
				ur.Warm(ctx)
			case <-ur.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the refresher
func (ur *UpdateRefresher) Stop() {
	close(ur.stopCh)
}

// Done is closed once the background loop has exited.
func (ur *UpdateRefresher) Done() <-chan struct{} {
	return ur.done
}

// Warm runs one freshness check and refresh.
func (ur *UpdateRefresher) Warm(ctx context.Context) {
	ran, err := ur.builder.Warm(ctx)
	switch {
	case err != nil:
		ur.logger.Warn("background image update refresh failed", logger.Error(err))
	case ran:
		ur.logger.Debug("background image update refresh completed")
	default:
		ur.logger.Debug("image update snapshot still fresh")
	}
}
