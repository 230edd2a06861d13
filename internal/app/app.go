package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/exposure/internal/cluster"
	"github.com/MrSnakeDoc/exposure/internal/config"
	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/gateway"
	"github.com/MrSnakeDoc/exposure/internal/httpserver"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
	"github.com/MrSnakeDoc/exposure/internal/index"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/metrics"
	"github.com/MrSnakeDoc/exposure/internal/ratelimit"
	"github.com/MrSnakeDoc/exposure/internal/redis"
	"github.com/MrSnakeDoc/exposure/internal/registry"
	"github.com/MrSnakeDoc/exposure/internal/scheduler"
	"github.com/MrSnakeDoc/exposure/internal/sources/services"
	redisstore "github.com/MrSnakeDoc/exposure/internal/store/redis"
	"github.com/MrSnakeDoc/exposure/internal/store/state"
	"github.com/MrSnakeDoc/exposure/internal/updates"
	"github.com/MrSnakeDoc/exposure/internal/version"
)

// Admin API budget per client IP, separate from the share limiter.
const (
	apiRateLimitRequests = 600
	apiRateLimitWindow   = time.Minute
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	reconciler  *scheduler.Reconciler
	refresher   *scheduler.UpdateRefresher
	gc          *scheduler.GarbageCollector
}

// New wires every component from the environment configuration. ctx bounds
// startup work such as waiting for Redis.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	loggerClient.Info("services loaded",
		logger.String("file", cfg.ServicesFile),
		logger.Int("count", catalog.Count()))

	defaultMode, err := domain.ParseAuthMode(cfg.DefaultAuthMode)
	if err != nil {
		return nil, fmt.Errorf("invalid default auth mode: %w", err)
	}
	if defaultMode == "" {
		defaultMode = domain.AuthModeGated
	}

	store := state.New(state.Options{
		Dir:                cfg.DataDir,
		Catalog:            catalog,
		DefaultAuthMode:    defaultMode,
		DefaultExpiryHours: cfg.DefaultExpiryHours,
		Logger:             loggerClient,
	})
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load exposure state: %w", err)
	}
	loggerClient.Info("exposure state loaded",
		logger.String("path", store.Path()),
		logger.Int("active", store.ActiveCount()))

	m := metrics.New(store.ActiveCount)
	reconciler := scheduler.NewReconciler(store, m, loggerClient, cfg.ReconcileInterval)

	shareLimiter := ratelimit.New(ratelimit.Config{
		Requests: cfg.RateLimitRequests,
		Window:   cfg.RateLimitWindow,
	})
	apiLimiter := ratelimit.New(ratelimit.Config{
		Requests: apiRateLimitRequests,
		Window:   apiRateLimitWindow,
	})

	var redisClient *goredis.Client
	if cfg.RedisEnabled() {
		redisClient, err = redis.Connect(ctx, redis.OptionsFromConfig(cfg), loggerClient)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	tagCache := registry.NewTagCache(cfg.RegistryTagCacheTTL)
	builder, kubeAvailable := newBuilder(cfg, loggerClient, catalog, tagCache, redisClient, m.ObserveRefresh)

	gate, err := gateway.New(gateway.Options{
		Catalog:      catalog,
		Store:        store,
		Limiter:      shareLimiter,
		Metrics:      m,
		Reconciler:   reconciler,
		AuthHeader:   cfg.AuthHeader,
		TrustProxy:   cfg.TrustProxy,
		RealIPHeader: cfg.RealIPHeader,
		Logger:       loggerClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build share gateway: %w", err)
	}

	gc := scheduler.NewGarbageCollector(loggerClient, cfg.GCInterval,
		scheduler.Sweepable{Name: "share_limiter", Purger: shareLimiter},
		scheduler.Sweepable{Name: "api_limiter", Purger: apiLimiter},
		scheduler.Sweepable{Name: "registry_tags", Purger: tagCache},
	)
	refresher := scheduler.NewUpdateRefresher(builder, loggerClient, cfg.ImageUpdateRefreshInterval)

	d := deps.Deps{
		Logger:            loggerClient,
		StartTime:         time.Now(),
		Version:           version.Version,
		Commit:            version.Commit,
		BuildDate:         version.BuildDate,
		GoVersion:         version.GoVersion,
		TimeNow:           time.Now,
		ControlPanelHosts: cfg.ControlPanelHosts,
		AllowedCIDRS:      cfg.AllowedCIDRS,
		TrustProxy:        cfg.TrustProxy,
		RealIPHeader:      cfg.RealIPHeader,
		ServiceFile:       cfg.ServicesFile,
		Catalog:           catalog,
		Store:             store,
		Reconciler:        reconciler,
		Updates:           builder,
		Metrics:           m,
		APILimiter:        apiLimiter,
		RedisClient:       redisClient,
		KubeAvailable:     kubeAvailable,
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      httpserver.New(cfg, loggerClient, d, gate.Intercept),
		redisClient: redisClient,
		reconciler:  reconciler,
		refresher:   refresher,
		gc:          gc,
	}, nil
}

// LoadCatalog reads the services file into an index using the configured
// public host scheme.
func LoadCatalog(cfg *config.Config) (*index.MemoryIndex, error) {
	list, err := services.LoadFile(cfg.ServicesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}
	catalog := index.NewMemoryIndex(index.HostScheme{
		Prefix: cfg.ShareHostPrefix,
		Domain: cfg.PublicDomain,
	})
	catalog.UpdateServices(list)
	return catalog, nil
}

// NewUpdateBuilder builds a standalone snapshot builder backed by the file
// cache only. It reports whether a Kubernetes API was found.
func NewUpdateBuilder(cfg *config.Config, log logger.Logger, catalog *index.MemoryIndex) (*updates.Builder, bool) {
	return newBuilder(cfg, log, catalog, registry.NewTagCache(cfg.RegistryTagCacheTTL), nil, nil)
}

func newBuilder(
	cfg *config.Config,
	log logger.Logger,
	catalog *index.MemoryIndex,
	tagCache *registry.TagCache,
	redisClient *goredis.Client,
	onRefresh func(error),
) (*updates.Builder, bool) {
	var inspector *cluster.Inspector
	kubeClient, err := cluster.BuildKubeClient(cfg.KubeConfig)
	if err != nil {
		log.Warn("kubernetes API unavailable, image updates limited to external targets",
			logger.Error(err))
	} else {
		inspector = cluster.NewInspector(kubeClient, cfg.RegistryTimeout)
	}

	var snapshots updates.SnapshotStore = updates.NewFileStore(cfg.DataDir)
	if redisClient != nil {
		snapshots = redisstore.NewSnapshotStore(redisClient, redisstore.DefaultSnapshotTTL)
	}

	builder := updates.NewBuilder(updates.Options{
		Catalog:   catalog,
		Inspector: inspector,
		Registry: registry.NewClient(registry.Options{
			HTTPClient: &http.Client{Timeout: cfg.RegistryTimeout},
			Timeout:    cfg.RegistryTimeout,
			UserAgent:  "exposure-control/" + version.Version,
			Cache:      tagCache,
			Logger:     log,
		}),
		Store:     snapshots,
		TTL:       cfg.ImageUpdateTTL,
		Logger:    log,
		OnRefresh: onRefresh,
	})
	return builder, inspector != nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("🚀 Starting exposure control v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("exposure control %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	// Start reconciler (startup sweep, then periodic)
	if err := a.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}
	a.logger.Info("reconciler started",
		logger.Duration("interval", a.reconciler.Interval()))

	// Start garbage collector
	if err := a.gc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start garbage collector: %w", err)
	}
	a.logger.Info("garbage collector started",
		logger.Duration("interval", a.cfg.GCInterval))

	// Start image update refresher
	if err := a.refresher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start image update refresher: %w", err)
	}
	a.logger.Info("image update refresher started",
		logger.Duration("interval", a.cfg.ImageUpdateRefreshInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.stopSchedulers()
		a.Close()
		return err
	}

	a.stopSchedulers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	a.Close()
	a.logger.Info("✅ exposure control stopped cleanly")
	return nil
}

func (a *App) stopSchedulers() {
	a.reconciler.Stop()
	a.gc.Stop()
	a.refresher.Stop()
}

// Close releases the Redis connection and flushes the logger.
func (a *App) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}
	_ = a.logger.Sync()
}
