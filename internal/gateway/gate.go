package gateway

import (
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/index"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/metrics"
	"github.com/MrSnakeDoc/exposure/internal/ratelimit"
	"github.com/MrSnakeDoc/exposure/internal/store/state"
	"github.com/MrSnakeDoc/exposure/internal/utils"
)

// DefaultAuthHeader carries the identity assertion of the upstream access proxy.
const DefaultAuthHeader = "Cf-Access-Jwt-Assertion"

// Deny reasons written to public clients.
const (
	MsgDisabled     = "exposure is disabled or expired"
	MsgRateLimited  = "rate limited"
	MsgAuthRequired = "access token required"
)

// Reconciler disables expired exposures before a request is decided.
type Reconciler interface {
	Reconcile(trigger string) error
}

// Options configures a Gate.
type Options struct {
	Catalog      *index.MemoryIndex
	Store        *state.Store
	Limiter      *ratelimit.Limiter
	Metrics      *metrics.Metrics
	Reconciler   Reconciler        // optional
	AuthHeader   string            // defaults to DefaultAuthHeader
	TrustProxy   bool              // resolve client IPs from proxy headers
	RealIPHeader string            // defaults to utils.DefaultRealIPHeader
	Transport    http.RoundTripper // defaults to http.DefaultTransport
	Logger       logger.Logger
	Now          func() time.Time
}

// Gate decides and forwards requests addressed to a public share host.
type Gate struct {
	catalog      *index.MemoryIndex
	store        *state.Store
	limiter      *ratelimit.Limiter
	metrics      *metrics.Metrics
	reconciler   Reconciler
	authHeader   string
	trustProxy   bool
	realIPHeader string
	transport    http.RoundTripper
	logger       logger.Logger
	now          func() time.Time

	proxies map[string]*httputil.ReverseProxy
}

// New builds a gate with one reverse proxy per configured service.
func New(opts Options) (*Gate, error) {
	if opts.AuthHeader == "" {
		opts.AuthHeader = DefaultAuthHeader
	}
	if opts.RealIPHeader == "" {
		opts.RealIPHeader = utils.DefaultRealIPHeader
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Gate{
		catalog:      opts.Catalog,
		store:        opts.Store,
		limiter:      opts.Limiter,
		metrics:      opts.Metrics,
		reconciler:   opts.Reconciler,
		authHeader:   opts.AuthHeader,
		trustProxy:   opts.TrustProxy,
		realIPHeader: opts.RealIPHeader,
		transport:    opts.Transport,
		logger:       opts.Logger,
		now:          opts.Now,
		proxies:      make(map[string]*httputil.ReverseProxy),
	}

	for _, svc := range opts.Catalog.GetAllServices() {
		p, err := g.newProxy(svc)
		if err != nil {
			return nil, err
		}
		g.proxies[svc.ID] = p
	}
	return g, nil
}

// Intercept serves requests whose Host is a public share host and passes
// every other request to next.
func (g *Gate) Intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc, ok := g.catalog.GetByHost(r.Host)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		g.serveShare(w, r, svc)
	})
}

// serveShare applies the checks in a fixed order: exposure state, rate
// limit, then authentication. A disabled service answers the same way to
// every client.
func (g *Gate) serveShare(w http.ResponseWriter, r *http.Request, svc domain.Service) {
	if g.reconciler != nil {
		_ = g.reconciler.Reconcile(state.TriggerRequest)
	}

	enabled, mode, _ := g.store.Access(svc.ID)
	if !enabled {
		g.metrics.ShareDeniedDisabledTotal.Inc()
		writeText(w, http.StatusForbidden, MsgDisabled)
		return
	}

	ip := utils.ClientIP(r, g.trustProxy, g.realIPHeader)
	if !g.limiter.Allow(svc.ID, ip, g.now()) {
		g.metrics.ShareDeniedRateLimited.Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(g.limiter.Window().Seconds())))
		writeText(w, http.StatusTooManyRequests, MsgRateLimited)
		return
	}

	if mode == domain.AuthModeGated && r.Header.Get(g.authHeader) == "" {
		g.metrics.ShareDeniedAuthTotal.Inc()
		writeText(w, http.StatusForbidden, MsgAuthRequired)
		return
	}

	g.metrics.ShareAllowedTotal.Inc()
	g.proxies[svc.ID].ServeHTTP(w, r)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
