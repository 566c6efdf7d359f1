package security

import "time"

// EventType tags a security event.
type EventType string

// Recognised event types.
const (
	EventFailedLogin     EventType = "failed_login"
	EventAccountLocked   EventType = "account_locked"
	EventCSRFAttempt     EventType = "csrf_attempt"
	EventOAuthSuspicious EventType = "oauth_suspicious"
	EventOther           EventType = "other"
)

// Event is one append-only security log record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Email     string         `json:"email,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Level is the severity of an alert.
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
)

// AlertType tags the rule that raised an alert.
type AlertType string

const (
	AlertBruteForce     AlertType = "BRUTE_FORCE_ATTEMPT"
	AlertCSRFAttack     AlertType = "CSRF_ATTACK"
	AlertAccountLockout AlertType = "ACCOUNT_LOCKOUT"
	AlertOAuthAnomaly   AlertType = "OAUTH_ANOMALY"
)

// Alert is derived from one or more events. Alerts are only created while an
// event is being recorded.
type Alert struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Type      AlertType      `json:"type"`
	Message   string         `json:"message"`
	EventID   string         `json:"event_id"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventCount pairs an event type with its number of occurrences.
type EventCount struct {
	Type  EventType `json:"type"`
	Count int       `json:"count"`
}

// Report summarises the monitor's activity over a trailing window.
type Report struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	Window        time.Duration `json:"window"`
	TotalEvents   int           `json:"total_events"`
	TotalAlerts   int           `json:"total_alerts"`
	AlertsByLevel map[Level]int `json:"alerts_by_level"`
	TopEvents     []EventCount  `json:"top_events"`
	RecentAlerts  []Alert       `json:"recent_alerts"`
}
