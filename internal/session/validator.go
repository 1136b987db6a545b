package session

import (
	"context"
	"fmt"
	"time"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/observability"
)

const DefaultTimeout = 15 * time.Minute

type Auditor interface {
	Log(ctx context.Context, entry audit.Entry) audit.Event
}

// Validator enforces the idle timeout. A session is expired once strictly more
// than Timeout has passed since its last activity.
type Validator struct {
	timeout time.Duration
	audit   Auditor
	logger  *observability.Logger
	now     func() time.Time
}

func NewValidator(timeout time.Duration, auditor Auditor, logger *observability.Logger) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Validator{
		timeout: timeout,
		audit:   auditor,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

func (v *Validator) Timeout() time.Duration { return v.timeout }

// Validate reports whether s is still live, sliding LastActivity forward on
// success and clearing s on failure.
func (v *Validator) Validate(ctx context.Context, s *Session) bool {
	if s == nil {
		return false
	}
	if s.UserID == "" {
		s.Clear()
		return false
	}

	if s.LastActivity == "" {
		v.logger.Warn("session_missing_last_activity", map[string]any{"user_id": s.UserID})
		s.Clear()
		return false
	}

	last, err := time.Parse(TimestampLayout, s.LastActivity)
	if err != nil {
		v.logger.Warn("session_malformed_last_activity", map[string]any{
			"user_id": s.UserID,
			"error":   err.Error(),
		})
		s.Clear()
		return false
	}

	now := v.now().UTC()
	idle := now.Sub(last)
	if idle > v.timeout {
		if v.audit != nil {
			v.audit.Log(ctx, audit.Entry{
				EventType: audit.EventSessionTimeout,
				Details:   fmt.Sprintf("Session expired after %d minutes of inactivity", int(idle.Minutes())),
				Severity:  audit.SeverityInfo,
				UserID:    s.UserID,
			})
		}
		s.Clear()
		return false
	}

	s.Touch(now)
	return true
}

// Extend is an explicit keep-alive: it validates and records the extension.
func (v *Validator) Extend(ctx context.Context, s *Session) bool {
	if !v.Validate(ctx, s) {
		return false
	}

	if v.audit != nil {
		v.audit.Log(ctx, audit.Entry{
			EventType: audit.EventSessionExtended,
			Details:   "Session extended by user",
			Severity:  audit.SeverityInfo,
			UserID:    s.UserID,
		})
	}
	return true
}
