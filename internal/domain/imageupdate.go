package domain

import "time"

// ImageStatus is the closed set of update states a service can be in.
type ImageStatus string

const (
	ImageStatusExternal     ImageStatus = "external"
	ImageStatusNotInstalled ImageStatus = "not-installed"
	ImageStatusUnknown      ImageStatus = "unknown"
	ImageStatusCurrent      ImageStatus = "current"
	ImageStatusUpdate       ImageStatus = "update"
)

// ImageUpdateItem compares the deployed image of one service with its registry.
type ImageUpdateItem struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Image           string      `json:"image,omitempty"`
	ImageRepo       string      `json:"imageRepo,omitempty"`
	CurrentVersion  string      `json:"currentVersion,omitempty"`
	LatestVersion   string      `json:"latestVersion,omitempty"`
	UpdateAvailable bool        `json:"updateAvailable"`
	Status          ImageStatus `json:"status"`
	StatusText      string      `json:"statusText"`
	Detail          string      `json:"detail"`
}

// ImageUpdateSnapshot is one full pass over all configured services.
type ImageUpdateSnapshot struct {
	CheckedAt time.Time         `json:"checkedAt"`
	TTLHours  float64           `json:"ttlHours"`
	Items     []ImageUpdateItem `json:"items"`
}

// NextCheckAt is the time the snapshot stops being fresh.
func (s *ImageUpdateSnapshot) NextCheckAt(ttl time.Duration) time.Time {
	return s.CheckedAt.Add(ttl)
}

// Fresh reports whether the snapshot is still within its TTL at now.
func (s *ImageUpdateSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	if s == nil || s.CheckedAt.IsZero() {
		return false
	}
	return s.NextCheckAt(ttl).After(now)
}
