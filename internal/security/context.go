package security

import (
	"context"

	"hipaa-training/internal/session"
)

type sessionKey struct{}

func ContextWithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the request's session, or nil when none was loaded.
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}

func currentUserID(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.UserID
	}
	return ""
}
