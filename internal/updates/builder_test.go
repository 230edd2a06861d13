package updates

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/MrSnakeDoc/exposure/internal/cluster"
	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/imageref"
	"github.com/MrSnakeDoc/exposure/internal/index"
)

type fakeLister struct {
	mu    sync.Mutex
	tags  map[string][]string
	errs  map[string]error
	calls atomic.Int32
	gate  chan struct{} // when set, ListTags blocks until closed
}

func (f *fakeLister) ListTags(ctx context.Context, ref imageref.Reference) ([]string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[ref.Repo()]; err != nil {
		return nil, err
	}
	return f.tags[ref.Repo()], nil
}

func (f *fakeLister) set(repo string, tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tags == nil {
		f.tags = make(map[string][]string)
	}
	f.tags[repo] = tags
}

func (f *fakeLister) fail(repo string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[repo] = err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func k8sService(name string, selector map[string]string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: "apps", Name: name},
		Spec:       corev1.ServiceSpec{Selector: selector},
	}
}

func k8sPod(name, app, image string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:         "apps",
			Name:              name,
			Labels:            map[string]string{"app": app},
			CreationTimestamp: metav1.NewTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		},
		Spec:   corev1.PodSpec{Containers: []corev1.Container{{Name: "main", Image: image}}},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
}

func svcTarget(name string) string {
	return "http://" + name + ".apps.svc.cluster.local:8080"
}

func newCatalog(services ...domain.Service) *index.MemoryIndex {
	idx := index.NewMemoryIndex(index.HostScheme{Prefix: "share-", Domain: "example.com"})
	idx.UpdateServices(services)
	return idx
}

func TestBuildStatuses(t *testing.T) {
	objects := []runtime.Object{
		k8sService("noselector", nil),
		k8sService("nopods", map[string]string{"app": "nopods"}),
		k8sService("invalid", map[string]string{"app": "invalid"}),
		k8sPod("invalid-0", "invalid", "Org/App:1.0.0"),
		k8sService("edge", map[string]string{"app": "edge"}),
		k8sPod("edge-0", "edge", "ghcr.io/acme/edge:latest"),
		k8sService("current", map[string]string{"app": "current"}),
		k8sPod("current-0", "current", "ghcr.io/acme/current:1.2.0"),
		k8sService("outdated", map[string]string{"app": "outdated"}),
		k8sPod("outdated-0", "outdated", "ghcr.io/acme/outdated:1.0.0"),
		k8sService("regerr", map[string]string{"app": "regerr"}),
		k8sPod("regerr-0", "regerr", "ghcr.io/acme/regerr:1.0.0"),
		k8sService("nostable", map[string]string{"app": "nostable"}),
		k8sPod("nostable-0", "nostable", "ghcr.io/acme/nostable:1.0.0"),
	}
	client := fake.NewSimpleClientset(objects...)

	lister := &fakeLister{}
	lister.set("ghcr.io/acme/current", "1.0.0", "1.2.0", "2.0.0-rc.1")
	lister.set("ghcr.io/acme/outdated", "1.0.0", "1.1.0", "latest")
	lister.fail("ghcr.io/acme/regerr", errors.New("registry returned 503"))
	lister.set("ghcr.io/acme/nostable", "latest", "edge")

	ids := []string{"external", "missing", "noselector", "nopods", "invalid", "edge", "current", "outdated", "regerr", "nostable"}
	services := make([]domain.Service, 0, len(ids))
	for _, id := range ids {
		target := svcTarget(id)
		if id == "external" {
			target = "https://wiki.example.com"
		}
		services = append(services, domain.Service{ID: id, Name: id, Target: target})
	}

	clock := newTestClock()
	b := NewBuilder(Options{
		Catalog:   newCatalog(services...),
		Inspector: cluster.NewInspector(client, time.Second),
		Registry:  lister,
		Now:       clock.Now,
	})

	snap, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, len(ids))
	assert.Equal(t, clock.Now(), snap.CheckedAt)
	assert.Equal(t, DefaultTTL.Hours(), snap.TTLHours)

	byID := make(map[string]domain.ImageUpdateItem)
	for i, item := range snap.Items {
		assert.Equal(t, ids[i], item.ID, "items keep catalog order")
		byID[item.ID] = item
	}

	tests := []struct {
		id     string
		status domain.ImageStatus
		text   string
	}{
		{"external", domain.ImageStatusExternal, "External target"},
		{"missing", domain.ImageStatusNotInstalled, "Not installed"},
		{"noselector", domain.ImageStatusUnknown, "No selector"},
		{"nopods", domain.ImageStatusNotInstalled, "No pods"},
		{"invalid", domain.ImageStatusUnknown, "Invalid image"},
		{"edge", domain.ImageStatusUnknown, "Unknown"},
		{"current", domain.ImageStatusCurrent, "Up to date"},
		{"outdated", domain.ImageStatusUpdate, "Update available"},
		{"regerr", domain.ImageStatusUnknown, "Registry error"},
		{"nostable", domain.ImageStatusUnknown, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			item := byID[tt.id]
			assert.Equal(t, tt.status, item.Status)
			assert.Equal(t, tt.text, item.StatusText)
			assert.NotEmpty(t, item.Detail)
		})
	}

	assert.Equal(t, "Org/App:1.0.0", byID["invalid"].Image)
	assert.Equal(t, "Current tag is not stable semver.", byID["edge"].Detail)
	assert.Equal(t, "latest", byID["edge"].CurrentVersion)

	outdated := byID["outdated"]
	assert.True(t, outdated.UpdateAvailable)
	assert.Equal(t, "1.1.0", outdated.LatestVersion)
	assert.Equal(t, "1.0.0", outdated.CurrentVersion)
	assert.Equal(t, "ghcr.io/acme/outdated", outdated.ImageRepo)
	assert.Equal(t, "New version 1.1.0 available.", outdated.Detail)

	current := byID["current"]
	assert.False(t, current.UpdateAvailable)
	assert.Equal(t, "1.2.0", current.LatestVersion)

	assert.Contains(t, byID["regerr"].Detail, "503")
	assert.Equal(t, "No stable semver tags found in registry.", byID["nostable"].Detail)
}

func TestBuildWithoutCluster(t *testing.T) {
	b := NewBuilder(Options{
		Catalog: newCatalog(
			domain.Service{ID: "a", Name: "A", Target: svcTarget("a")},
			domain.Service{ID: "b", Name: "B", Target: "https://b.example.org"},
		),
		Registry: &fakeLister{},
	})

	snap, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)

	assert.Equal(t, domain.ImageStatusUnknown, snap.Items[0].Status)
	assert.Equal(t, "Cluster error", snap.Items[0].StatusText)
	assert.Equal(t, cluster.ErrUnavailable.Error(), snap.Items[0].Detail)
	assert.Equal(t, domain.ImageStatusExternal, snap.Items[1].Status)
}

func TestBuildCancelled(t *testing.T) {
	b := NewBuilder(Options{Catalog: newCatalog(), Registry: &fakeLister{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// outdatedFixture returns a builder over one outdated cluster service.
func outdatedFixture(t *testing.T, lister *fakeLister, store SnapshotStore, clock *testClock) *Builder {
	t.Helper()
	client := fake.NewSimpleClientset(
		k8sService("app", map[string]string{"app": "app"}),
		k8sPod("app-0", "app", "ghcr.io/acme/app:1.0.0"),
	)
	lister.set("ghcr.io/acme/app", "1.0.0", "1.0.1")
	return NewBuilder(Options{
		Catalog:   newCatalog(domain.Service{ID: "app", Name: "App", Target: svcTarget("app")}),
		Inspector: cluster.NewInspector(client, time.Second),
		Registry:  lister,
		Store:     store,
		TTL:       time.Hour,
		Now:       clock.Now,
	})
}

func TestGetWithoutCacheRefreshesLive(t *testing.T) {
	lister := &fakeLister{}
	clock := newTestClock()
	b := outdatedFixture(t, lister, nil, clock)

	var refreshes []error
	b.onRefresh = func(err error) { refreshes = append(refreshes, err) }

	report, err := b.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, report.Source)
	assert.False(t, report.Stale)
	assert.False(t, report.RefreshInProgress)
	require.NotNil(t, report.NextCheckAt)
	assert.Equal(t, clock.Now().Add(time.Hour), *report.NextCheckAt)
	require.Len(t, report.Items, 1)
	assert.True(t, report.Items[0].UpdateAvailable)
	assert.Len(t, refreshes, 1)

	// second call is served from the fresh cache
	report, err = b.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, report.Source)
	assert.False(t, report.Stale)
	assert.EqualValues(t, 1, lister.calls.Load())
}

func TestGetForceBypassesFreshCache(t *testing.T) {
	lister := &fakeLister{}
	b := outdatedFixture(t, lister, nil, newTestClock())

	_, err := b.Get(context.Background(), false)
	require.NoError(t, err)

	report, err := b.Get(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, report.Source)
	assert.EqualValues(t, 2, lister.calls.Load())
}

func TestGetStaleCacheReturnsImmediately(t *testing.T) {
	lister := &fakeLister{}
	clock := newTestClock()
	b := outdatedFixture(t, lister, nil, clock)

	first, err := b.Get(context.Background(), false)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	lister.gate = make(chan struct{})

	report, err := b.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, report.Source)
	assert.True(t, report.Stale)
	assert.True(t, report.RefreshInProgress)
	assert.Equal(t, first.CheckedAt, report.CheckedAt)

	close(lister.gate)
	require.Eventually(t, func() bool {
		return !b.Refreshing() && b.Cached(context.Background()).CheckedAt.Equal(clock.Now())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetFailureFallsBackToCache(t *testing.T) {
	lister := &fakeLister{}
	b := outdatedFixture(t, lister, nil, newTestClock())

	_, err := b.Get(context.Background(), false)
	require.NoError(t, err)

	// a refresh that cannot finish in time fails as a whole
	b.refreshTimeout = 20 * time.Millisecond
	lister.gate = make(chan struct{})
	defer close(lister.gate)

	report, err := b.Get(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, report.Source)
	assert.True(t, report.Stale)
	assert.False(t, report.RefreshInProgress)
	assert.Contains(t, report.Error, "deadline exceeded")
	require.Len(t, report.Items, 1)
}

func TestGetFailureWithoutCache(t *testing.T) {
	lister := &fakeLister{gate: make(chan struct{})}
	defer close(lister.gate)
	b := outdatedFixture(t, lister, nil, newTestClock())
	b.refreshTimeout = 20 * time.Millisecond

	_, err := b.Get(context.Background(), false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, b.Cached(context.Background()))
}

func TestGetSharesConcurrentRefresh(t *testing.T) {
	lister := &fakeLister{gate: make(chan struct{})}
	b := outdatedFixture(t, lister, nil, newTestClock())

	const callers = 6
	var wg sync.WaitGroup
	reports := make([]Report, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = b.Get(context.Background(), true)
		}()
	}

	require.Eventually(t, b.Refreshing, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(lister.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, SourceLive, reports[i].Source)
	}
	// callers that arrived after the first refresh finished may start a second one
	assert.LessOrEqual(t, lister.calls.Load(), int32(2))
}

func TestGetCallerCancelReturnsStaleCache(t *testing.T) {
	lister := &fakeLister{}
	clock := newTestClock()
	b := outdatedFixture(t, lister, nil, clock)

	_, err := b.Get(context.Background(), false)
	require.NoError(t, err)

	lister.gate = make(chan struct{})
	defer close(lister.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := b.Get(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.Stale)
	assert.True(t, report.RefreshInProgress)
}

func TestWarm(t *testing.T) {
	lister := &fakeLister{}
	clock := newTestClock()
	b := outdatedFixture(t, lister, nil, clock)

	ran, err := b.Warm(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = b.Warm(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "fresh cache needs no refresh")

	clock.Advance(2 * time.Hour)
	ran, err = b.Warm(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.EqualValues(t, 2, lister.calls.Load())
}

func TestCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()

	first := outdatedFixture(t, &fakeLister{}, NewFileStore(dir), clock)
	_, err := first.Get(context.Background(), false)
	require.NoError(t, err)

	lister := &fakeLister{}
	second := outdatedFixture(t, lister, NewFileStore(dir), clock)

	report, err := second.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, report.Source)
	assert.False(t, report.Stale)
	assert.Zero(t, lister.calls.Load())
	require.Len(t, report.Items, 1)
	assert.Equal(t, "1.0.1", report.Items[0].LatestVersion)
}

// flakyStore fails its first loads, then delegates.
type flakyStore struct {
	SnapshotStore
	failures int32
	loads    atomic.Int32
}

func (f *flakyStore) Load(ctx context.Context) (*domain.ImageUpdateSnapshot, error) {
	if f.loads.Add(1) <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.SnapshotStore.Load(ctx)
}

func TestCachedRetriesFailedLoad(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	ctx := context.Background()

	saved := &domain.ImageUpdateSnapshot{CheckedAt: clock.Now().UTC(), TTLHours: 168}
	require.NoError(t, NewFileStore(dir).Save(ctx, saved))

	store := &flakyStore{SnapshotStore: NewFileStore(dir), failures: 1}
	b := NewBuilder(Options{Catalog: newCatalog(), Store: store, Now: clock.Now})

	assert.Nil(t, b.Cached(ctx), "failed load yields no snapshot")

	got := b.Cached(ctx)
	require.NotNil(t, got, "second call should read the store again")
	assert.True(t, got.CheckedAt.Equal(saved.CheckedAt))

	b.Cached(ctx)
	assert.Equal(t, int32(2), store.loads.Load(), "a successful load is not repeated")
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "missing file")

	want := &domain.ImageUpdateSnapshot{
		CheckedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TTLHours:  168,
		Items:     []domain.ImageUpdateItem{{ID: "a", Name: "A", Status: domain.ImageStatusCurrent, StatusText: "Up to date"}},
	}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))
	snap, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "corrupt file counts as empty")
}
