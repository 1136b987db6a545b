// Package session holds the per-browser security state and its idle timeout.
package session

import "time"

const TimestampLayout = time.RFC3339Nano

// Session is the state carried in the signed session cookie.
// MFAPending is set between the password check and the TOTP step; UserID stays
// empty until the second factor succeeds.
type Session struct {
	UserID       string
	Role         string
	Facility     string
	LastActivity string
	MFAPending   string
}

func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

func (s *Session) Clear() {
	*s = Session{}
}

func (s *Session) Touch(now time.Time) {
	s.LastActivity = now.UTC().Format(TimestampLayout)
}

// Start fills a freshly authenticated session.
func Start(userID, role, facility string, now time.Time) *Session {
	s := &Session{UserID: userID, Role: role, Facility: facility}
	s.Touch(now)
	return s
}
