package updates

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/exposure/internal/cluster"
	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/imageref"
	"github.com/MrSnakeDoc/exposure/internal/index"
	"github.com/MrSnakeDoc/exposure/internal/logger"
)

const (
	DefaultTTL            = 168 * time.Hour
	DefaultRefreshTimeout = 2 * time.Minute
	DefaultConcurrency    = 4

	SourceCache = "cache"
	SourceLive  = "live"

	refreshKey = "snapshot"
)

// TagLister lists the tags of an image repository.
type TagLister interface {
	ListTags(ctx context.Context, ref imageref.Reference) ([]string, error)
}

// Options configures a Builder.
type Options struct {
	Catalog        *index.MemoryIndex
	Inspector      *cluster.Inspector // nil when no Kubernetes API is reachable
	Registry       TagLister
	Store          SnapshotStore // optional persistence of the last snapshot
	TTL            time.Duration
	RefreshTimeout time.Duration // bound of one full refresh, detached from callers
	Concurrency    int           // services inspected in parallel
	Logger         logger.Logger
	Now            func() time.Time
	OnRefresh      func(err error) // optional hook, called once per refresh
}

// Report is a snapshot plus how it was obtained.
type Report struct {
	domain.ImageUpdateSnapshot
	Source            string     `json:"source"`
	Stale             bool       `json:"stale"`
	RefreshInProgress bool       `json:"refreshInProgress"`
	NextCheckAt       *time.Time `json:"nextCheckAt"`
	Error             string     `json:"error,omitempty"`
}

// Builder produces image update snapshots and caches the last good one.
//
// At most one refresh runs at a time. Callers arriving while it runs share
// its result. The refresh is not tied to any caller's context.
type Builder struct {
	catalog        *index.MemoryIndex
	inspector      *cluster.Inspector
	registry       TagLister
	store          SnapshotStore
	ttl            time.Duration
	refreshTimeout time.Duration
	concurrency    int
	logger         logger.Logger
	now            func() time.Time
	onRefresh      func(error)

	group    singleflight.Group
	inflight atomic.Bool

	mu     sync.RWMutex
	cached *domain.ImageUpdateSnapshot
	loaded bool
}

// NewBuilder creates a builder with defaults for every zero option.
func NewBuilder(opts Options) *Builder {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnRefresh == nil {
		opts.OnRefresh = func(error) {}
	}
	return &Builder{
		catalog:        opts.Catalog,
		inspector:      opts.Inspector,
		registry:       opts.Registry,
		store:          opts.Store,
		ttl:            opts.TTL,
		refreshTimeout: opts.RefreshTimeout,
		concurrency:    opts.Concurrency,
		logger:         opts.Logger,
		now:            opts.Now,
		onRefresh:      opts.OnRefresh,
	}
}

// TTL returns the freshness window of a snapshot.
func (b *Builder) TTL() time.Duration {
	return b.ttl
}

// Build inspects every configured service once. Per-service failures are
// reported in the items; Build only fails when ctx ends first.
func (b *Builder) Build(ctx context.Context) (*domain.ImageUpdateSnapshot, error) {
	services := b.catalog.GetAllServices()
	items := make([]domain.ImageUpdateItem, len(services))

	var lookup *cluster.Lookup
	if b.inspector != nil {
		lookup = b.inspector.NewLookup()
	}

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, svc := range services {
		i, svc := i, svc
		g.Go(func() error {
			items[i] = b.inspect(ctx, lookup, svc)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("image update refresh aborted: %w", err)
	}

	return &domain.ImageUpdateSnapshot{
		CheckedAt: b.now().UTC(),
		TTLHours:  b.ttl.Hours(),
		Items:     items,
	}, nil
}

// Get returns the cached snapshot when fresh. A stale cache is returned at
// once while a background refresh runs. With force, or without any cache,
// Get waits for the shared refresh and falls back to the cache on failure.
func (b *Builder) Get(ctx context.Context, force bool) (Report, error) {
	cached := b.Cached(ctx)

	if !force && cached.Fresh(b.now(), b.ttl) {
		return b.report(cached, SourceCache, false, b.inflight.Load(), ""), nil
	}

	ch := b.refresh()

	if !force && cached != nil {
		return b.report(cached, SourceCache, true, true, ""), nil
	}

	select {
	case res := <-ch:
		if res.Err == nil {
			return b.report(res.Val.(*domain.ImageUpdateSnapshot), SourceLive, false, false, ""), nil
		}
		if cached != nil {
			return b.report(cached, SourceCache, true, false, res.Err.Error()), nil
		}
		return Report{}, res.Err
	case <-ctx.Done():
		if cached != nil {
			return b.report(cached, SourceCache, true, true, ""), nil
		}
		return Report{}, ctx.Err()
	}
}

// Warm refreshes the snapshot when the cache is missing or stale and waits
// for the result. It reports whether a refresh ran.
func (b *Builder) Warm(ctx context.Context) (bool, error) {
	if b.Cached(ctx).Fresh(b.now(), b.ttl) {
		return false, nil
	}
	select {
	case res := <-b.refresh():
		return true, res.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Refreshing reports whether a refresh is running.
func (b *Builder) Refreshing() bool {
	return b.inflight.Load()
}

// Cached returns the last good snapshot, loading it from the store on first
// use. A failed load is retried on the next call.
func (b *Builder) Cached(ctx context.Context) *domain.ImageUpdateSnapshot {
	b.mu.RLock()
	snap, loaded := b.cached, b.loaded
	b.mu.RUnlock()
	if loaded {
		return snap
	}

	var stored *domain.ImageUpdateSnapshot
	if b.store != nil {
		s, err := b.store.Load(ctx)
		if err != nil {
			// stay unloaded so the next call reads the store again
			b.logger.Warn("failed to load image update cache", logger.Error(err))
			b.mu.RLock()
			defer b.mu.RUnlock()
			return b.cached
		}
		stored = s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		b.cached = stored
		b.loaded = true
	}
	return b.cached
}

func (b *Builder) refresh() <-chan singleflight.Result {
	return b.group.DoChan(refreshKey, func() (any, error) {
		b.inflight.Store(true)
		defer b.inflight.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), b.refreshTimeout)
		defer cancel()

		start := b.now()
		snap, err := b.Build(ctx)
		b.onRefresh(err)
		if err != nil {
			b.logger.Error("image update refresh failed", logger.Error(err))
			return nil, err
		}

		b.mu.Lock()
		b.cached = snap
		b.loaded = true
		b.mu.Unlock()

		if b.store != nil {
			if err := b.store.Save(ctx, snap); err != nil {
				b.logger.Warn("failed to persist image update cache", logger.Error(err))
			}
		}

		b.logger.Info("image update snapshot refreshed",
			logger.Int("items", len(snap.Items)),
			logger.Int("updates", countUpdates(snap)),
			logger.Duration("took", b.now().Sub(start)))
		return snap, nil
	})
}

func (b *Builder) report(snap *domain.ImageUpdateSnapshot, source string, stale, inProgress bool, errMsg string) Report {
	r := Report{
		ImageUpdateSnapshot: *snap,
		Source:              source,
		Stale:               stale,
		RefreshInProgress:   inProgress,
		Error:               errMsg,
	}
	if !snap.CheckedAt.IsZero() {
		next := snap.NextCheckAt(b.ttl)
		r.NextCheckAt = &next
	}
	if r.Items == nil {
		r.Items = []domain.ImageUpdateItem{}
	}
	return r
}

func countUpdates(snap *domain.ImageUpdateSnapshot) int {
	n := 0
	for _, it := range snap.Items {
		if it.UpdateAvailable {
			n++
		}
	}
	return n
}
