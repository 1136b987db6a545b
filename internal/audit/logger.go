package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"hipaa-training/internal/observability"
)

type Store interface {
	Insert(ctx context.Context, event Event) error
	List(ctx context.Context, query ListQuery) ([]Event, error)
}

type Sink interface {
	Write(event Event) error
}

// Logger writes every event to the primary store and falls back to a local
// sink when the store is unavailable. Log never fails from the caller's view.
type Logger struct {
	store    Store
	fallback Sink
	app      *observability.Logger
	now      func() time.Time
}

func NewLogger(store Store, fallback Sink, app *observability.Logger) *Logger {
	if app == nil {
		app = observability.NewNopLogger()
	}
	return &Logger{
		store:    store,
		fallback: fallback,
		app:      app,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

// Log completes the entry from the request context, sanitises it and persists it.
// The stored event is returned for callers that want to echo it.
func (l *Logger) Log(ctx context.Context, entry Entry) Event {
	event := l.build(ctx, entry)

	observability.SecurityEventsTotal.WithLabelValues(string(event.EventType), string(event.Severity)).Inc()
	l.mirror(event)

	if err := l.store.Insert(ctx, event); err != nil {
		l.app.Error("audit_write_failed", map[string]any{
			"error":      err.Error(),
			"event_type": string(event.EventType),
			"user_id":    event.UserID,
			"ip":         event.IPAddress,
		})
		observability.CaptureError("audit", err)
		l.writeFallback(event)
	}

	return event
}

func (l *Logger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	days := filter.Days
	if days <= 0 {
		days = DefaultQueryDays
	}

	query := ListQuery{
		Since:  l.now().Add(-time.Duration(days) * 24 * time.Hour),
		UserID: filter.UserID,
		Limit:  filter.Limit,
	}
	if filter.Severity != "" {
		severity, ok := ParseSeverity(string(filter.Severity))
		if !ok {
			return nil, ErrInvalidSeverity
		}
		query.Severity = severity
	}

	return l.store.List(ctx, query)
}

func (l *Logger) build(ctx context.Context, entry Entry) Event {
	info, _ := RequestFromContext(ctx)

	ip := entry.IPAddress
	if ip == "" {
		ip = info.IPAddress
	}
	if ip == "" {
		ip = UnknownIP
	} else if ip != UnknownIP && ip != InvalidIP {
		ip = ValidateIP(ip)
	}

	userAgent := entry.UserAgent
	if userAgent == "" {
		userAgent = info.UserAgent
	}
	if userAgent == "" {
		userAgent = UnknownAgent
	}

	userID := entry.UserID
	if userID == "" {
		userID = AnonymousUser
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return Event{
		ID:        id.String(),
		Timestamp: l.now().UTC(),
		EventType: entry.EventType,
		UserID:    truncate(userID, 100),
		IPAddress: ip,
		UserAgent: truncate(userAgent, MaxUserAgentLength),
		Details:   truncate(entry.Details, MaxDetailsLength),
		Severity:  normalizeSeverity(entry.Severity),
	}
}

func (l *Logger) mirror(event Event) {
	fields := map[string]any{
		"event_type": string(event.EventType),
		"user_id":    event.UserID,
		"ip":         event.IPAddress,
		"details":    event.Details,
	}
	switch event.Severity {
	case SeverityError:
		l.app.Error("security_event", fields)
	case SeverityWarning:
		l.app.Warn("security_event", fields)
	default:
		l.app.Info("security_event", fields)
	}
}

func (l *Logger) writeFallback(event Event) {
	if l.fallback == nil {
		return
	}
	if err := l.fallback.Write(event); err != nil {
		l.app.Error("audit_fallback_write_failed", map[string]any{
			"error":      err.Error(),
			"event_type": string(event.EventType),
		})
		return
	}
	observability.AuditFallbackWritesTotal.Inc()
}

var ErrInvalidSeverity = errors.New("invalid severity")
