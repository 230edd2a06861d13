package domain

import (
	"math"
	"time"
)

const (
	// MinExposureHours is the shortest grant an operator can ask for.
	MinExposureHours = 0.25
	// MaxExposureHours is the longest grant an operator can ask for.
	MaxExposureHours = 24.0
)

// Exposure is the mutable sharing state of one service.
//
// ExpiresAt is only set while Enabled is true. Whether the service is
// reachable right now is derived with EffectiveEnabled; it is never stored.
type Exposure struct {
	Enabled   bool       `json:"enabled"`
	ExpiresAt *time.Time `json:"expiresAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	AuthMode  AuthMode   `json:"authMode,omitempty"`
}

// Disabled returns a fresh disabled record stamped at now.
func Disabled(now time.Time, mode AuthMode) Exposure {
	return Exposure{
		Enabled:   false,
		ExpiresAt: nil,
		UpdatedAt: now.UTC(),
		AuthMode:  mode,
	}
}

// Expired reports whether an enabled exposure has run past its expiry.
// Disabled exposures and exposures without an expiry never expire.
func (e Exposure) Expired(now time.Time) bool {
	if !e.Enabled || e.ExpiresAt == nil {
		return false
	}
	return !e.ExpiresAt.After(now)
}

// EffectiveEnabled combines the stored flag with a real-time expiry check.
func (e Exposure) EffectiveEnabled(now time.Time) bool {
	return e.Enabled && !e.Expired(now)
}

// ClampHours bounds a requested grant duration to [MinExposureHours, MaxExposureHours]
// and rounds it to the nearest quarter hour. Non-finite input yields fallback.
func ClampHours(hours, fallback float64) float64 {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		hours = fallback
	}
	if hours < MinExposureHours {
		return MinExposureHours
	}
	if hours > MaxExposureHours {
		return MaxExposureHours
	}
	return math.Round(hours*4) / 4
}

// HoursToDuration converts a clamped hour count to a time.Duration.
func HoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// ServiceView is the API projection of a Service and its Exposure.
type ServiceView struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Target             string     `json:"target"`
	PublicHost         string     `json:"publicHost"`
	PublicURL          string     `json:"publicUrl"`
	Enabled            bool       `json:"enabled"`
	DesiredEnabled     bool       `json:"desiredEnabled"`
	ExpiresAt          *time.Time `json:"expiresAt"`
	UpdatedAt          *time.Time `json:"updatedAt"`
	DefaultExpiryHours float64    `json:"defaultExpiryHours"`
	DefaultAuthMode    AuthMode   `json:"defaultAuthMode"`
	AuthMode           AuthMode   `json:"authMode"`
}
