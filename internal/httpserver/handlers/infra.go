package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
)

type componentStatus struct {
	OK             bool   `json:"ok"`
	ServicesLoaded *int   `json:"services_loaded,omitempty"`
	Active         *int   `json:"active,omitempty"`
	LastReload     string `json:"last_reload,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Impact         string `json:"impact,omitempty"`
	Error          string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra summarizes the health of every backing component.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servicesCount := d.Catalog.Count()
		active := d.Store.ActiveCount()
		lastReload := d.Catalog.GetLastReload()
		lastReloadStr := "never"
		if !lastReload.IsZero() {
			lastReloadStr = lastReload.Format("2006-01-02 15:04:05")
		}

		components := map[string]componentStatus{
			"catalog": {
				OK:             servicesCount > 0,
				ServicesLoaded: &servicesCount,
				LastReload:     lastReloadStr,
			},
			"state": {
				OK:     true,
				Active: &active,
				Mode:   "file",
			},
			"kubernetes":    checkKube(d),
			"redis":         checkRedis(r.Context(), d),
			"image_updates": checkUpdates(d),
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	// No services loaded = nothing can be shared
	if catalog, exists := components["catalog"]; exists && !catalog.OK {
		return "critical"
	}

	// Any optional component down = degraded
	for _, name := range []string{"kubernetes", "redis"} {
		if c, exists := components[name]; exists && !c.OK && c.Mode != "disabled" {
			return "degraded"
		}
	}

	return "operational"
}

func checkKube(d deps.Deps) componentStatus {
	if !d.KubeAvailable {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "image-updates-cluster-items-unknown",
			Error:  "no kubernetes configuration",
		}
	}
	return componentStatus{OK: true, Mode: "in-cluster"}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     true,
			Mode:   "disabled",
			Impact: "snapshot-cache-on-disk",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "snapshot-cache-unavailable",
			Error:  "timeout",
		}
	}

	return componentStatus{OK: true, Mode: "optimal"}
}

func checkUpdates(d deps.Deps) componentStatus {
	if d.Updates == nil {
		return componentStatus{OK: false, Mode: "disabled"}
	}
	mode := "idle"
	if d.Updates.Refreshing() {
		mode = "refreshing"
	}
	return componentStatus{OK: true, Mode: mode}
}
