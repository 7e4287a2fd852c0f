package security

import "time"

// Severity levels, ordered.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event is a structured security occurrence. Events are immutable after
// creation except through Resolve.
type Event struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id,omitempty"`
	Type       string            `json:"type"`
	Severity   string            `json:"severity"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Location   string            `json:"location,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy string            `json:"resolved_by,omitempty"`
	Created    time.Time         `json:"created"`
}

// severityDefaults maps event types to the severity applied when the caller
// does not supply one. Unknown types default to medium.
var severityDefaults = map[string]string{
	"login_success":       SeverityLow,
	"login_failed":        SeverityLow,
	"login_denied":        SeverityHigh,
	"mfa_verified":        SeverityLow,
	"mfa_failed":          SeverityMedium,
	"mfa_enabled":         SeverityLow,
	"mfa_disabled":        SeverityMedium,
	"otp_invalid":         SeverityMedium,
	"backup_code_used":    SeverityMedium,
	"new_device_login":    SeverityMedium,
	"device_verified":     SeverityLow,
	"password_changed":    SeverityLow,
	"suspicious_activity": SeverityHigh,
	"account_locked":      SeverityCritical,
}

// autoResolved lists benign event types that carry no follow-up action and
// are therefore marked resolved at creation time.
var autoResolved = map[string]bool{
	"login_success":    true,
	"mfa_verified":     true,
	"mfa_enabled":      true,
	"device_verified":  true,
	"password_changed": true,
}

// DefaultSeverity returns the table severity for an event type.
func DefaultSeverity(eventType string) string {
	if sev, ok := severityDefaults[eventType]; ok {
		return sev
	}
	return SeverityMedium
}

// AutoResolved reports whether events of this type resolve at creation.
func AutoResolved(eventType string) bool {
	return autoResolved[eventType]
}
