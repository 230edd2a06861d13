package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/exposure/internal/index"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/metrics"
	"github.com/MrSnakeDoc/exposure/internal/ratelimit"
	"github.com/MrSnakeDoc/exposure/internal/store/state"
	"github.com/MrSnakeDoc/exposure/internal/updates"
)

// Reconciler disables expired exposures on demand.
type Reconciler interface {
	Reconcile(trigger string) error
}

type Deps struct {
	Logger            logger.Logger
	StartTime         time.Time
	Version           string
	Commit            string
	BuildDate         string
	GoVersion         string
	TimeNow           func() time.Time   // for testing, defaults to time.Now
	ControlPanelHosts []string           // Host headers allowed to reach /api and /status
	AllowedCIDRS      []string           // IPs allowed to access readyz/metrics endpoints
	TrustProxy        bool               // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RealIPHeader      string             // header carrying the visitor IP when TrustProxy is set
	ServiceFile       string             // Path to the service definitions file
	Catalog           *index.MemoryIndex // Configured services
	Store             *state.Store       // Exposure state and audit log
	Reconciler        Reconciler         // Lazy expiry before reads
	Updates           *updates.Builder   // Image update snapshots
	Metrics           *metrics.Metrics   // Prometheus collectors
	APILimiter        *ratelimit.Limiter // Admin API budget per client IP (nil disables)
	RedisClient       *redis.Client      // Optional snapshot mirror, nil when not configured
	KubeAvailable     bool               // false when no Kubernetes API config was found
}

// Now returns the current time using TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
