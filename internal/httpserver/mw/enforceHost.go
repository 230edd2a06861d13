package mw

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/exposure/internal/index"
	"github.com/MrSnakeDoc/exposure/internal/logger"
)

// ErrHostRestricted is the body returned to requests on a foreign host.
const ErrHostRestricted = "api access is restricted to control panel host"

// loopbackHosts can always reach the control panel (port-forward, probes).
var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// EnforceHost allows requests only if the Host header matches one of the
// allowed hosts or a loopback name. Supports wildcard patterns like
// "*.example.com". Other hosts get a 403 JSON error.
func EnforceHost(allowedHosts []string, log logger.Logger) func(http.Handler) http.Handler {
	patterns := make([]string, 0, len(allowedHosts)+len(loopbackHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			patterns = append(patterns, h)
		}
	}
	patterns = append(patterns, loopbackHosts...)

	log.Debugf("EnforceHost: initialized with hosts=%v", patterns)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := index.NormalizeHost(r.Host)

			// Check exact matches and wildcard patterns
			for _, pattern := range patterns {
				if matchHost(host, pattern) {
					next.ServeHTTP(w, r)
					return
				}
			}

			log.Debugf("EnforceHost: Host %s REJECTED", host)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": ErrHostRestricted})
		})
	}
}

// matchHost checks if host matches pattern (supports wildcard *.example.com)
func matchHost(host, pattern string) bool {
	// Exact match
	if host == pattern {
		return true
	}

	// Wildcard match: *.example.com matches sub.example.com
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // Remove * to get .example.com
		return strings.HasSuffix(host, suffix)
	}

	return false
}
