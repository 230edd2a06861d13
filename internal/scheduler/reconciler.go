package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/metrics"
	"github.com/MrSnakeDoc/exposure/internal/store/state"
)

// MinReconcileInterval is the shortest accepted reconcile period.
const MinReconcileInterval = 15 * time.Second

// Reconciler disables expired exposures on a timer and on demand.
type Reconciler struct {
	store    *state.Store
	metrics  *metrics.Metrics
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewReconciler creates a reconciler. The interval is raised to MinReconcileInterval.
func NewReconciler(
	store *state.Store,
	m *metrics.Metrics,
	log logger.Logger,
	interval time.Duration,
) *Reconciler {
	if interval < MinReconcileInterval {
		interval = MinReconcileInterval
	}
	return &Reconciler{
		store:    store,
		metrics:  m,
		logger:   log,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Interval returns the effective tick period.
func (rc *Reconciler) Interval() time.Duration {
	return rc.interval
}

// Start runs one sweep, then sweeps on every tick until Stop or ctx ends.
// A failed sweep is logged and retried on the next tick.
func (rc *Reconciler) Start(ctx context.Context) error {
	_ = rc.Reconcile(state.TriggerInterval)

	ticker := time.NewTicker(rc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = rc.Reconcile(state.TriggerInterval)
			case <-rc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reconciler
func (rc *Reconciler) Stop() {
	close(rc.stopCh)
}

// Reconcile runs one sweep synchronously. trigger is recorded on audit entries.
func (rc *Reconciler) Reconcile(trigger string) error {
	expired, err := rc.store.ReconcileExpired(trigger)
	if err != nil {
		rc.metrics.ReconcileFailed(len(expired))
		rc.logger.Error("reconcile failed",
			logger.String("trigger", trigger),
			logger.Strings("expired", expired),
			logger.Error(err))
		return err
	}

	rc.metrics.ReconcileSucceeded(len(expired), rc.now())
	if len(expired) > 0 {
		rc.logger.Info("exposures expired",
			logger.String("trigger", trigger),
			logger.Strings("services", expired))
	}
	return nil
}
