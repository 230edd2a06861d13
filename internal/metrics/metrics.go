package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exposure_control"

// Refresh results of the image update snapshot.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
)

// Metrics holds every collector of the control plane on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	EnableTotal              prometheus.Counter
	DisableTotal             prometheus.Counter
	EmergencyDisableTotal    prometheus.Counter
	ExpiredDisableTotal      prometheus.Counter
	ShareAllowedTotal        prometheus.Counter
	ShareDeniedDisabledTotal prometheus.Counter
	ShareDeniedAuthTotal     prometheus.Counter
	ShareDeniedRateLimited   prometheus.Counter
	ShareUpstreamErrorsTotal prometheus.Counter
	ReconcileErrorsTotal     prometheus.Counter
	LastReconcileTimestamp   prometheus.Gauge
	ImageUpdateRefreshTotal  *prometheus.CounterVec
}

// New registers the collectors. activeExposures is sampled on every scrape.
func New(activeExposures func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	if activeExposures != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_exposures",
			Help:      "Number of currently active temporary public exposures.",
		}, func() float64 { return float64(activeExposures()) })
	}

	return &Metrics{
		registry: reg,
		EnableTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enable_total",
			Help:      "Number of manual enable operations.",
		}),
		DisableTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disable_total",
			Help:      "Number of manual disable operations.",
		}),
		EmergencyDisableTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_disable_total",
			Help:      "Number of exposures disabled via emergency shutdown.",
		}),
		ExpiredDisableTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_disable_total",
			Help:      "Number of exposures auto-disabled due to expiry.",
		}),
		ShareAllowedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_allowed_total",
			Help:      "Number of share requests forwarded to upstreams.",
		}),
		ShareDeniedDisabledTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_denied_disabled_total",
			Help:      "Number of share requests denied because exposure was disabled.",
		}),
		ShareDeniedAuthTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_denied_auth_total",
			Help:      "Number of share requests denied due to a missing access assertion.",
		}),
		ShareDeniedRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_denied_rate_limited_total",
			Help:      "Number of share requests denied by rate limit.",
		}),
		ShareUpstreamErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_upstream_errors_total",
			Help:      "Number of share requests that failed to reach the upstream.",
		}),
		ReconcileErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Number of errors in expiry reconciliation.",
		}),
		LastReconcileTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reconcile_timestamp_seconds",
			Help:      "Unix timestamp of the last successful reconciliation loop.",
		}),
		ImageUpdateRefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_update_refresh_total",
			Help:      "Number of image update snapshot refreshes by result.",
		}, []string{"result"}),
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ReconcileSucceeded records a completed sweep that disabled expired exposures.
func (m *Metrics) ReconcileSucceeded(expired int, at time.Time) {
	m.ExpiredDisableTotal.Add(float64(expired))
	m.LastReconcileTimestamp.Set(float64(at.Unix()))
}

// ReconcileFailed counts a sweep that could not be persisted. The exposures it
// disabled in memory still count as expired.
func (m *Metrics) ReconcileFailed(expired int) {
	m.ExpiredDisableTotal.Add(float64(expired))
	m.ReconcileErrorsTotal.Inc()
}

// ObserveRefresh counts one image update refresh.
func (m *Metrics) ObserveRefresh(err error) {
	result := RefreshSuccess
	if err != nil {
		result = RefreshFailure
	}
	m.ImageUpdateRefreshTotal.WithLabelValues(result).Inc()
}
