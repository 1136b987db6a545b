package audit

import (
	"strings"
	"time"
)

type EventType string

const (
	EventLoginSuccess           EventType = "LOGIN_SUCCESS"
	EventLoginFailed            EventType = "LOGIN_FAILED"
	EventLogout                 EventType = "LOGOUT"
	EventSessionTimeout         EventType = "SESSION_TIMEOUT"
	EventUnauthenticatedAccess  EventType = "UNAUTHENTICATED_ACCESS"
	EventUnauthorizedRoleAccess EventType = "UNAUTHORIZED_ROLE_ACCESS"
	EventCSRFValidationFailed   EventType = "CSRF_VALIDATION_FAILED"
	EventBruteForceLockout      EventType = "BRUTE_FORCE_LOCKOUT"
	EventSessionExtended        EventType = "SESSION_EXTENDED"
	EventLessonCompleted        EventType = "LESSON_COMPLETED"
	EventQuizCompleted          EventType = "QUIZ_COMPLETED"
	EventChecklistUpdated       EventType = "CHECKLIST_UPDATED"
	EventMFAEnabled             EventType = "MFA_ENABLED"
	EventMFAVerified            EventType = "MFA_VERIFIED"
	EventMFAFailed              EventType = "MFA_FAILED"
)

var knownEventTypes = map[EventType]struct{}{
	EventLoginSuccess:           {},
	EventLoginFailed:            {},
	EventLogout:                 {},
	EventSessionTimeout:         {},
	EventUnauthenticatedAccess:  {},
	EventUnauthorizedRoleAccess: {},
	EventCSRFValidationFailed:   {},
	EventBruteForceLockout:      {},
	EventSessionExtended:        {},
	EventLessonCompleted:        {},
	EventQuizCompleted:          {},
	EventChecklistUpdated:       {},
	EventMFAEnabled:             {},
	EventMFAVerified:            {},
	EventMFAFailed:              {},
}

func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// ParseSeverity maps user input to a Severity. Unknown values report false.
func ParseSeverity(value string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "INFO":
		return SeverityInfo, true
	case "WARNING", "WARN":
		return SeverityWarning, true
	case "ERROR":
		return SeverityError, true
	default:
		return "", false
	}
}

func normalizeSeverity(s Severity) Severity {
	if parsed, ok := ParseSeverity(string(s)); ok {
		return parsed
	}
	return SeverityInfo
}

const (
	AnonymousUser = "anonymous"
	UnknownIP     = "Unknown_IP"
	InvalidIP     = "Invalid_IP"
	UnknownAgent  = "Unknown"

	MaxUserAgentLength = 500
	MaxDetailsLength   = 1000
	maxIPLength        = 45
)

// Event is a persisted audit record. Rows are never updated after insert.
type Event struct {
	ID        string    `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	EventType EventType `db:"event_type" json:"event_type"`
	UserID    string    `db:"user_id" json:"user_id"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	Details   string    `db:"details" json:"details"`
	Severity  Severity  `db:"severity" json:"severity"`
}

// Entry is what callers hand to Logger.Log; the logger completes and sanitises it.
type Entry struct {
	EventType EventType
	Details   string
	Severity  Severity
	UserID    string
	IPAddress string
	UserAgent string
}

type Filter struct {
	UserID   string
	Days     int
	Severity Severity
	Limit    int
}

const DefaultQueryDays = 30

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
