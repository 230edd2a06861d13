package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrSnakeDoc/exposure/internal/config"
	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
	"github.com/MrSnakeDoc/exposure/internal/index"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/metrics"
	"github.com/MrSnakeDoc/exposure/internal/store/state"
	"github.com/MrSnakeDoc/exposure/internal/updates"
)

const panelHost = "exposure.example.com"

type testEnv struct {
	handler http.Handler
	store   *state.Store
	metrics *metrics.Metrics
}

type reconcileFunc func(trigger string) error

func (f reconcileFunc) Reconcile(trigger string) error { return f(trigger) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.New("error", false)

	catalog := index.NewMemoryIndex(index.HostScheme{Prefix: "share-", Domain: "example.com"})
	catalog.UpdateServices([]domain.Service{
		{ID: "jellyfin", Name: "Jellyfin", Target: "https://jellyfin.example.org"},
		{ID: "wiki", Name: "Wiki", Target: "https://wiki.example.org", AuthMode: domain.AuthModeNone},
	})

	store := state.New(state.Options{
		Dir:                t.TempDir(),
		Catalog:            catalog,
		DefaultAuthMode:    domain.AuthModeGated,
		DefaultExpiryHours: 1,
		Logger:             log,
	})
	if err := store.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	m := metrics.New(store.ActiveCount)
	builder := updates.NewBuilder(updates.Options{Catalog: catalog, Logger: log})

	d := deps.Deps{
		Logger:            log,
		StartTime:         time.Now(),
		Version:           "test",
		ControlPanelHosts: []string{panelHost},
		Catalog:           catalog,
		Store:             store,
		Reconciler: reconcileFunc(func(trigger string) error {
			_, err := store.ReconcileExpired(trigger)
			return err
		}),
		Updates: builder,
		Metrics: m,
	}

	// stands in for the share gate
	intercept := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := catalog.GetByHost(r.Host); ok {
				w.WriteHeader(http.StatusTeapot)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	cfg := &config.Config{APITimeout: 5 * time.Second}
	return &testEnv{
		handler: NewHandler(cfg, log, d, intercept),
		store:   store,
		metrics: m,
	}
}

func (e *testEnv) do(method, host, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Host = host
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error string `json:"error"`
}

type serviceBody struct {
	Service domain.ServiceView `json:"service"`
}

type servicesBody struct {
	Services []domain.ServiceView `json:"services"`
}

func TestAPIRestrictedToControlPanelHost(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		host string
		want int
	}{
		{panelHost, http.StatusOK},
		{"Exposure.Example.com:8080", http.StatusOK},
		{"localhost:8080", http.StatusOK},
		{"127.0.0.1", http.StatusOK},
		{"evil.example.net", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.host, "/api/services", "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusForbidden {
				if got := decode[errorBody](t, rec).Error; got != "api access is restricted to control panel host" {
					t.Errorf("error = %q", got)
				}
			}
		})
	}
}

func TestShareHostsAreIntercepted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "share-wiki.example.com", "/api/services", "")
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want the share gate to answer", rec.Code)
	}
}

func TestListServices(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, panelHost, "/api/services", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[servicesBody](t, rec)
	if len(body.Services) != 2 {
		t.Fatalf("got %d services, want 2", len(body.Services))
	}
	first := body.Services[0]
	if first.ID != "jellyfin" || first.PublicHost != "share-jellyfin.example.com" || first.PublicURL != "https://share-jellyfin.example.com" {
		t.Errorf("first service = %+v", first)
	}
	if first.Enabled || first.AuthMode != domain.AuthModeGated {
		t.Errorf("fresh service should be disabled and gated: %+v", first)
	}
	if body.Services[1].DefaultAuthMode != domain.AuthModeNone {
		t.Errorf("wiki default auth mode = %q", body.Services[1].DefaultAuthMode)
	}
}

func TestEnableService(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, panelHost, "/api/services/jellyfin/enable", `{"hours": 2, "authMode": "none"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	svc := decode[serviceBody](t, rec).Service
	if !svc.Enabled || !svc.DesiredEnabled || svc.AuthMode != domain.AuthModeNone || svc.ExpiresAt == nil {
		t.Errorf("service = %+v", svc)
	}
	if got := testutil.ToFloat64(env.metrics.EnableTotal); got != 1 {
		t.Errorf("enable_total = %v, want 1", got)
	}

	// defaults: no body, default expiry and service auth mode
	rec = env.do(http.MethodPost, panelHost, "/api/services/wiki/enable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	svc = decode[serviceBody](t, rec).Service
	if svc.AuthMode != domain.AuthModeNone || svc.ExpiresAt == nil || svc.UpdatedAt == nil {
		t.Errorf("service = %+v", svc)
	}
	if d := svc.ExpiresAt.Sub(*svc.UpdatedAt); d != time.Hour {
		t.Errorf("default grant = %v, want 1h", d)
	}

	// numeric strings and the legacy mode name are accepted
	rec = env.do(http.MethodPost, panelHost, "/api/services/wiki/enable", `{"hours": "0.5", "authMode": "cloudflare-access"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	svc = decode[serviceBody](t, rec).Service
	if svc.AuthMode != domain.AuthModeGated {
		t.Errorf("authMode = %q, want gated", svc.AuthMode)
	}
	if d := svc.ExpiresAt.Sub(*svc.UpdatedAt); d != 30*time.Minute {
		t.Errorf("grant = %v, want 30m", d)
	}
}

func TestEnableServiceRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		err    string
	}{
		{"unknown service", "/api/services/nope/enable", `{}`, http.StatusNotFound, "service not found"},
		{"bad json", "/api/services/wiki/enable", `{"hours":`, http.StatusBadRequest, "invalid json body"},
		{"not an object", "/api/services/wiki/enable", `[1]`, http.StatusBadRequest, "invalid json body"},
		{"bad auth mode", "/api/services/wiki/enable", `{"authMode":"oauth"}`, http.StatusBadRequest, ""},
		{"body too large", "/api/services/wiki/enable", `{"pad":"` + strings.Repeat("x", 1<<20) + `"}`, http.StatusRequestEntityTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, panelHost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.err != "" {
				if got := decode[errorBody](t, rec).Error; got != tt.err {
					t.Errorf("error = %q, want %q", got, tt.err)
				}
			}
		})
	}

	if exp, _ := env.store.Get("wiki"); exp.Enabled {
		t.Error("rejected requests must not change state")
	}
	if got := testutil.ToFloat64(env.metrics.EnableTotal); got != 0 {
		t.Errorf("enable_total = %v, want 0", got)
	}
}

func TestDisableService(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodPost, panelHost, "/api/services/wiki/enable", `{"hours":1}`)

	rec := env.do(http.MethodPost, panelHost, "/api/services/wiki/disable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc := decode[serviceBody](t, rec).Service; svc.Enabled || svc.ExpiresAt != nil {
		t.Errorf("service = %+v", svc)
	}

	// second disable is a no-op
	rec = env.do(http.MethodPost, panelHost, "/api/services/wiki/disable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := testutil.ToFloat64(env.metrics.DisableTotal); got != 1 {
		t.Errorf("disable_total = %v, want 1", got)
	}

	rec = env.do(http.MethodPost, panelHost, "/api/services/nope/disable", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown service status = %d, want 404", rec.Code)
	}
}

func TestDisableAll(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodPost, panelHost, "/api/services/wiki/enable", "")
	env.do(http.MethodPost, panelHost, "/api/services/jellyfin/enable", "")

	rec := env.do(http.MethodPost, panelHost, "/api/admin/disable-all", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Disabled int                  `json:"disabled"`
		Services []domain.ServiceView `json:"services"`
	}](t, rec)
	if body.Disabled != 2 || len(body.Services) != 2 {
		t.Errorf("body = %+v", body)
	}
	for _, svc := range body.Services {
		if svc.Enabled {
			t.Errorf("%s still enabled", svc.ID)
		}
	}
	if got := testutil.ToFloat64(env.metrics.EmergencyDisableTotal); got != 2 {
		t.Errorf("emergency_disable_total = %v, want 2", got)
	}
}

func TestAuditEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodPost, panelHost, "/api/services/wiki/enable", "")
	env.do(http.MethodPost, panelHost, "/api/services/wiki/disable", "")

	rec := env.do(http.MethodGet, panelHost, "/api/audit?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Entries []domain.AuditEntry `json:"entries"`
	}](t, rec)
	if len(body.Entries) != 1 || body.Entries[0].Action != domain.ActionDisable {
		t.Errorf("entries = %+v", body.Entries)
	}

	rec = env.do(http.MethodGet, panelHost, "/api/audit?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestImageUpdatesEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, panelHost, "/api/image-updates", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	report := decode[updates.Report](t, rec)
	if report.Source != updates.SourceLive || len(report.Items) != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.Items[0].Status != domain.ImageStatusExternal {
		t.Errorf("item status = %q", report.Items[0].Status)
	}

	rec = env.do(http.MethodGet, panelHost, "/api/image-updates", "")
	if report = decode[updates.Report](t, rec); report.Source != updates.SourceCache {
		t.Errorf("second call source = %q, want cache", report.Source)
	}

	rec = env.do(http.MethodGet, panelHost, "/api/image-updates?refresh=1", "")
	if report = decode[updates.Report](t, rec); report.Source != updates.SourceLive {
		t.Errorf("forced call source = %q, want live", report.Source)
	}
}

func TestStatusAndProbes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, panelHost, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/status = %d", rec.Code)
	}
	status := decode[struct {
		App                string               `json:"app"`
		DefaultExpiryHours float64              `json:"defaultExpiryHours"`
		Services           []domain.ServiceView `json:"services"`
	}](t, rec)
	if status.App != "exposure-control" || status.DefaultExpiryHours != 1 || len(status.Services) != 2 {
		t.Errorf("status = %+v", status)
	}

	if rec := env.do(http.MethodGet, "evil.example.net", "/status", ""); rec.Code != http.StatusForbidden {
		t.Errorf("/status from foreign host = %d, want 403", rec.Code)
	}

	if rec := env.do(http.MethodGet, "any.host", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, panelHost, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, panelHost, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "exposure_control_active_exposures 0") {
		t.Errorf("/metrics = %d %s", rec.Code, rec.Body.String())
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/nope", "/api/nope"} {
		rec := env.do(http.MethodGet, panelHost, path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
			continue
		}
		if got := decode[errorBody](t, rec).Error; got != "not found" {
			t.Errorf("%s error = %q", path, got)
		}
	}
}
