package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
	"github.com/MrSnakeDoc/exposure/internal/store/state"
)

// AppName identifies the process in status payloads.
const AppName = "exposure-control"

type statusResponse struct {
	App                string               `json:"app"`
	Mode               string               `json:"mode"`
	Version            string               `json:"version,omitempty"`
	DefaultExpiryHours float64              `json:"defaultExpiryHours"`
	Services           []domain.ServiceView `json:"services"`
}

func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Reconciler != nil {
			_ = d.Reconciler.Reconcile(state.TriggerRequest)
		}
		writeJSON(w, http.StatusOK, statusResponse{
			App:                AppName,
			Mode:               "control-panel",
			Version:            d.Version,
			DefaultExpiryHours: d.Store.DefaultExpiryHours(),
			Services:           d.Store.Views(),
		})
	}
}
