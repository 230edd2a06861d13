package domain

import (
	"fmt"
	"strings"
)

// AuthMode controls whether a shared service requires a trusted-proxy assertion.
type AuthMode string

const (
	// AuthModeNone forwards any request that passes the rate limiter.
	AuthModeNone AuthMode = "none"
	// AuthModeGated requires the access assertion header injected by the
	// upstream identity proxy (Cloudflare Access).
	AuthModeGated AuthMode = "gated"

	// authModeCloudflareAccess is the historical name of AuthModeGated.
	// It is still accepted on input.
	authModeCloudflareAccess = "cloudflare-access"
)

// ParseAuthMode normalizes a user supplied auth mode.
// An empty value returns ("", nil) so callers can apply their own default.
func ParseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeGated), authModeCloudflareAccess:
		return AuthModeGated, nil
	default:
		return "", fmt.Errorf("invalid auth mode %q (want %q or %q)", raw, AuthModeNone, AuthModeGated)
	}
}

// Service is a statically configured internal service that may be shared.
//
// Services are loaded once at startup and never mutated afterwards.
type Service struct {
	// ID is the unique key. It is also the first label of the public host.
	ID string

	// Name is the display name shown in the control panel.
	Name string

	// Description is optional free text.
	Description string

	// Target is the internal base URL requests are forwarded to.
	// Example: http://jellyfin.media.svc.cluster.local:8096
	Target string

	// AuthMode overrides the process default when set.
	AuthMode AuthMode
}

// DefaultAuthMode returns the auth mode a fresh exposure of s starts with.
func (s Service) DefaultAuthMode(fallback AuthMode) AuthMode {
	if s.AuthMode != "" {
		return s.AuthMode
	}
	return fallback
}
