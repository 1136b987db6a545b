package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const CookieName = "hipaa_session"

var ErrWeakSecret = errors.New("session secret must be at least 32 bytes")

type claims struct {
	Role         string `json:"role,omitempty"`
	Facility     string `json:"facility,omitempty"`
	LastActivity string `json:"lat,omitempty"`
	MFAPending   string `json:"mfa,omitempty"`
	jwt.RegisteredClaims
}

// CookieCodec stores the session as an HS256-signed JWT in an HttpOnly cookie.
type CookieCodec struct {
	secret []byte
	secure bool
	now    func() time.Time
}

func NewCookieCodec(secret string, secure bool) (*CookieCodec, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	return &CookieCodec{
		secret: []byte(secret),
		secure: secure,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Load returns the session from the request. A missing cookie or a bad
// signature yields an empty session, never an error.
func (c *CookieCodec) Load(r *http.Request) *Session {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return &Session{}
	}

	s, err := c.Decode(cookie.Value)
	if err != nil {
		return &Session{}
	}
	return s
}

func (c *CookieCodec) Decode(value string) (*Session, error) {
	var parsed claims
	_, err := jwt.ParseWithClaims(value, &parsed, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	return &Session{
		UserID:       parsed.Subject,
		Role:         parsed.Role,
		Facility:     parsed.Facility,
		LastActivity: parsed.LastActivity,
		MFAPending:   parsed.MFAPending,
	}, nil
}

func (c *CookieCodec) Encode(s *Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:         s.Role,
		Facility:     s.Facility,
		LastActivity: s.LastActivity,
		MFAPending:   s.MFAPending,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  s.UserID,
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	})
	encoded, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return encoded, nil
}

// Save writes s back to the client, or expires the cookie when s is empty.
func (c *CookieCodec) Save(w http.ResponseWriter, s *Session) error {
	if s == nil || (s.UserID == "" && s.MFAPending == "") {
		c.Clear(w)
		return nil
	}

	value, err := c.Encode(s)
	if err != nil {
		return err
	}

	setSessionCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func (c *CookieCodec) Clear(w http.ResponseWriter) {
	setSessionCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// setSessionCookie replaces any session cookie already queued on w, so a
// response never carries both a refreshed token and a later clear.
func setSessionCookie(w http.ResponseWriter, cookie *http.Cookie) {
	header := w.Header()
	prefix := CookieName + "="
	var kept []string
	for _, line := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(line, prefix) {
			kept = append(kept, line)
		}
	}
	header.Del("Set-Cookie")
	for _, line := range kept {
		header.Add("Set-Cookie", line)
	}
	http.SetCookie(w, cookie)
}
