package domain

import "time"

// Audit actions.
const (
	ActionEnable              = "enable"
	ActionDisable             = "disable"
	ActionAutoExpire          = "auto-expire"
	ActionEmergencyDisableAll = "emergency-disable-all"
)

// AuditEntry is one append-only record of a state transition.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Action    string         `json:"action"`
	ServiceID string         `json:"serviceId,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}
