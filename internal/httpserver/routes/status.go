package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/mw"
)

func init() { Register(registerStatus) }

func registerStatus(r chi.Router, d deps.Deps) {
	r.With(mw.EnforceHost(d.ControlPanelHosts, d.Logger)).Get("/status", handlers.Status(d))
}
