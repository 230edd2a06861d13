package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api", func(api chi.Router) {
		api.Use(mw.EnforceHost(d.ControlPanelHosts, d.Logger))
		api.Use(mw.RateLimit(mw.RateLimitConfig{
			Limiter:      d.APILimiter,
			Scope:        "api",
			TrustProxy:   d.TrustProxy,
			RealIPHeader: d.RealIPHeader,
			Now:          d.TimeNow,
		}))

		api.Get("/services", handlers.Services(d))
		api.Post("/services/{id}/enable", handlers.EnableService(d))
		api.Post("/services/{id}/disable", handlers.DisableService(d))
		api.Post("/admin/disable-all", handlers.DisableAll(d))
		api.Get("/audit", handlers.Audit(d))
		api.Get("/image-updates", handlers.ImageUpdates(d))
		api.Get("/infra", handlers.Infra(d))

		api.NotFound(handlers.NotFound)
		api.MethodNotAllowed(handlers.MethodNotAllowed)
	})
}
