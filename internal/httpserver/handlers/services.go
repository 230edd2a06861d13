package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/store/state"
)

// MaxBodyBytes bounds admin request bodies.
const MaxBodyBytes = 1 << 20

type servicesResponse struct {
	Services []domain.ServiceView `json:"services"`
}

type serviceResponse struct {
	Service domain.ServiceView `json:"service"`
}

type disableAllResponse struct {
	Disabled int                  `json:"disabled"`
	Services []domain.ServiceView `json:"services"`
}

type enableRequest struct {
	Hours    any    `json:"hours"` // number or numeric string
	AuthMode string `json:"authMode"`
}

// Services lists every configured service with its live exposure state.
func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Reconciler != nil {
			_ = d.Reconciler.Reconcile(state.TriggerRequest)
		}
		writeJSON(w, http.StatusOK, servicesResponse{Services: d.Store.Views()})
	}
}

// EnableService opens a time-limited exposure.
func EnableService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := d.Catalog.GetService(id); !ok {
			writeError(w, http.StatusNotFound, state.ErrUnknownService.Error())
			return
		}

		var req enableRequest
		if status, msg := decodeBody(w, r, &req); status != 0 {
			writeError(w, status, msg)
			return
		}

		mode, err := domain.ParseAuthMode(req.AuthMode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		hours := parseHours(req.Hours, d.Store.DefaultExpiryHours())
		if _, err := d.Store.SetEnabled(id, hours, mode); err != nil {
			if errors.Is(err, state.ErrUnknownService) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			d.Logger.Error("failed to enable exposure", logger.String("service", id), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to persist state")
			return
		}
		d.Metrics.EnableTotal.Inc()

		view, _ := d.Store.View(id)
		d.Logger.Info("exposure enabled",
			logger.String("service", id),
			logger.String("auth_mode", string(view.AuthMode)),
			logger.Float64("hours", domain.ClampHours(hours, d.Store.DefaultExpiryHours())))
		writeJSON(w, http.StatusOK, serviceResponse{Service: view})
	}
}

// DisableService closes an exposure. Disabling twice is harmless.
func DisableService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		_, changed, err := d.Store.SetDisabled(id)
		if err != nil {
			if errors.Is(err, state.ErrUnknownService) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			d.Logger.Error("failed to disable exposure", logger.String("service", id), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to persist state")
			return
		}
		if changed {
			d.Metrics.DisableTotal.Inc()
			d.Logger.Info("exposure disabled", logger.String("service", id))
		}

		view, _ := d.Store.View(id)
		writeJSON(w, http.StatusOK, serviceResponse{Service: view})
	}
}

// DisableAll is the emergency switch closing every exposure at once.
func DisableAll(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := d.Store.DisableAll()
		if err != nil {
			d.Logger.Error("emergency disable failed", logger.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to persist state")
			return
		}
		d.Metrics.EmergencyDisableTotal.Add(float64(n))
		d.Logger.Warn("emergency disable of all exposures", logger.Int("disabled", n))

		writeJSON(w, http.StatusOK, disableAllResponse{Disabled: n, Services: d.Store.Views()})
	}
}

// decodeBody reads an optional JSON object. It returns a non-zero status
// with a message when the body must be rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) (int, string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, "request body too large"
		}
		return http.StatusBadRequest, "failed to read request body"
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return 0, ""
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return http.StatusBadRequest, "invalid json body"
	}
	return 0, ""
}

// parseHours accepts a JSON number or a numeric string. Anything else,
// including a missing value, yields fallback.
func parseHours(raw any, fallback float64) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}
