package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/imageref"
)

const testToken = "s3cr3t"

// fakeRegistry serves /token and /v2/org/app/tags/list behind bearer auth.
type fakeRegistry struct {
	pages       [][]string
	alwaysNext  bool
	rejectToken bool

	listCalls  atomic.Int32
	tokenCalls atomic.Int32
	lastScope  atomic.Value
	lastUA     atomic.Value
}

func (f *fakeRegistry) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		f.lastScope.Store(r.URL.Query().Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": testToken})
	})
	mux.HandleFunc("/v2/org/app/tags/list", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		f.lastUA.Store(r.UserAgent())
		if f.rejectToken || r.Header.Get("Authorization") != "Bearer "+testToken {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Bearer realm="https://%s/token",service="test-registry"`, r.Host))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		page := 0
		if p := r.URL.Query().Get("page"); p != "" {
			_, _ = fmt.Sscanf(p, "%d", &page)
		}
		var tags []string
		if page < len(f.pages) {
			tags = f.pages[page]
		}
		if f.alwaysNext || page+1 < len(f.pages) {
			w.Header().Set("Link", fmt.Sprintf(`</v2/org/app/tags/list?n=2&page=%d>; rel="next"`, page+1))
		}
		_ = json.NewEncoder(w).Encode(tagsPage{Name: "org/app", Tags: tags})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeRegistry, opts Options) (*Client, imageref.Reference) {
	t.Helper()
	ts := httptest.NewTLSServer(f.handler())
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	opts.HTTPClient = ts.Client()
	ref := imageref.Reference{Registry: u.Host, Repository: "org/app", Tag: "1.0.0"}
	return NewClient(opts), ref
}

func TestListTagsTokenChallenge(t *testing.T) {
	f := &fakeRegistry{pages: [][]string{{"1.0.0", "1.1.0", "latest"}}}
	c, ref := newTestClient(t, f, Options{UserAgent: "exposure-control/test"})

	tags, err := c.ListTags(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if strings.Join(tags, ",") != "1.0.0,1.1.0,latest" {
		t.Errorf("ListTags() = %v", tags)
	}
	if got := f.tokenCalls.Load(); got != 1 {
		t.Errorf("token calls = %d, want 1", got)
	}
	if got := f.listCalls.Load(); got != 2 {
		t.Errorf("list calls = %d, want 2 (401 then 200)", got)
	}
	if got := f.lastScope.Load(); got != "repository:org/app:pull" {
		t.Errorf("scope = %v, want default pull scope", got)
	}
	if got := f.lastUA.Load(); got != "exposure-control/test" {
		t.Errorf("User-Agent = %v", got)
	}
}

func TestListTagsSecondUnauthorizedIsHardFailure(t *testing.T) {
	f := &fakeRegistry{rejectToken: true}
	c, ref := newTestClient(t, f, Options{})

	_, err := c.ListTags(context.Background(), ref)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ListTags() error = %v, want ErrUnauthorized", err)
	}
	if got := f.tokenCalls.Load(); got != 1 {
		t.Errorf("token calls = %d, want exactly 1", got)
	}
	if got := f.listCalls.Load(); got != 2 {
		t.Errorf("list calls = %d, want 2", got)
	}
}

func TestListTagsPaginationDeduplicates(t *testing.T) {
	f := &fakeRegistry{pages: [][]string{{"1.0.0", "1.1.0"}, {"1.1.0", "2.0.0"}, {" ", "2.1.0"}}}
	c, ref := newTestClient(t, f, Options{})

	tags, err := c.ListTags(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if strings.Join(tags, ",") != "1.0.0,1.1.0,2.0.0,2.1.0" {
		t.Errorf("ListTags() = %v", tags)
	}
}

func TestListTagsPageCeiling(t *testing.T) {
	f := &fakeRegistry{pages: [][]string{{"a"}, {"b"}, {"c"}, {"d"}}, alwaysNext: true}
	c, ref := newTestClient(t, f, Options{MaxPages: 3})

	tags, err := c.ListTags(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	// the 401 round trip consumes one of the three pages
	if len(tags) != 2 {
		t.Errorf("ListTags() = %v, want 2 tags", tags)
	}
	if got := f.listCalls.Load(); got != 3 {
		t.Errorf("list calls = %d, want 3", got)
	}
}

func TestListTagsStatusError(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()
	u, _ := url.Parse(ts.URL)

	c := NewClient(Options{HTTPClient: ts.Client()})
	_, err := c.ListTags(context.Background(), imageref.Reference{Registry: u.Host, Repository: "missing/app"})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("ListTags() error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", se.StatusCode)
	}
	if err.Error() != "tags request failed (404)" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestListTagsUsesCache(t *testing.T) {
	f := &fakeRegistry{pages: [][]string{{"1.0.0"}}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewTagCache(time.Hour)
	c, ref := newTestClient(t, f, Options{Cache: cache, Now: func() time.Time { return now }})

	for i := 0; i < 3; i++ {
		if _, err := c.ListTags(context.Background(), ref); err != nil {
			t.Fatalf("ListTags() error = %v", err)
		}
	}
	if got := f.listCalls.Load(); got != 2 {
		t.Errorf("list calls = %d, want 2 (cached after first lookup)", got)
	}

	now = now.Add(2 * time.Hour)
	if _, err := c.ListTags(context.Background(), ref); err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if got := f.listCalls.Load(); got != 4 {
		t.Errorf("list calls = %d, want 4 after ttl", got)
	}
}

func TestListTagsTimeout(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()
	u, _ := url.Parse(ts.URL)

	client := ts.Client()
	client.Timeout = 50 * time.Millisecond
	c := NewClient(Options{HTTPClient: client})

	if _, err := c.ListTags(context.Background(), imageref.Reference{Registry: u.Host, Repository: "slow/app"}); err == nil {
		t.Fatal("ListTags() should fail on timeout")
	}
}

func TestAPIHost(t *testing.T) {
	if got := apiHost("docker.io"); got != "registry-1.docker.io" {
		t.Errorf("apiHost(docker.io) = %q", got)
	}
	if got := apiHost("ghcr.io"); got != "ghcr.io" {
		t.Errorf("apiHost(ghcr.io) = %q", got)
	}
}
