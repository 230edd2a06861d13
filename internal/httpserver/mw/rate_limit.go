package mw

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/ratelimit"
	"github.com/MrSnakeDoc/exposure/internal/utils"
)

// RateLimitConfig scopes a shared fixed-window limiter to one group of routes.
type RateLimitConfig struct {
	Limiter      *ratelimit.Limiter // nil disables limiting
	Scope        string             // key prefix, ex: "api"
	TrustProxy   bool               // resolve IP from proxy headers when true
	RealIPHeader string
	Now          func() time.Time // defaults to time.Now
}

// RateLimit denies clients that spent their budget for the current window.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	limitStr := strconv.Itoa(cfg.Limiter.Limit())
	retryStr := strconv.Itoa(int(cfg.Limiter.Window().Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, cfg.TrustProxy, cfg.RealIPHeader)

			w.Header().Set("X-RateLimit-Limit", limitStr)
			if !cfg.Limiter.Allow(cfg.Scope, ip, cfg.Now()) {
				w.Header().Set("Retry-After", retryStr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
