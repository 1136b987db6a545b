package security

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/csrf"
	"hipaa-training/internal/session"
)

// Chain wraps h so that middleware[0] runs first.
func Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// LoadRequest attaches the caller's request metadata and session cookie to the context.
func (s *Security) LoadRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _ = s.withRequest(r)
		next.ServeHTTP(w, r)
	})
}

// RequestSession returns r carrying request metadata and its session, loading
// the session cookie if no earlier middleware did.
func (s *Security) RequestSession(r *http.Request) (*http.Request, *session.Session) {
	return s.withRequest(r)
}

func (s *Security) withRequest(r *http.Request) (*http.Request, *session.Session) {
	ctx := r.Context()
	if _, ok := audit.RequestFromContext(ctx); !ok {
		ctx = audit.ContextWithRequest(ctx, audit.RequestInfoFrom(r))
	}

	sess := SessionFromContext(ctx)
	if sess == nil {
		sess = s.cookies.Load(r)
		ctx = ContextWithSession(ctx, sess)
	}

	if ctx == r.Context() {
		return r, sess
	}
	return r.WithContext(ctx), sess
}

// RequireAuthentication runs next only for a live session, refreshing its cookie.
func (s *Security) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, sess := s.withRequest(r)
		ctx := r.Context()

		hadCookie := hasSessionCookie(r)
		if !s.validator.Validate(ctx, sess) {
			s.LogSecurityEvent(ctx, audit.EventUnauthenticatedAccess,
				fmt.Sprintf("Unauthenticated access attempt to %s", r.URL.Path), audit.SeverityWarning)
			if hadCookie {
				s.cookies.Clear(w)
			}
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if err := s.cookies.Save(w, sess); err != nil {
			s.logger.Error("session_save_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole authenticates first, then admits only the listed roles.
func (s *Security) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := slices.Clone(roles)

	return func(next http.Handler) http.Handler {
		return s.RequireAuthentication(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			if sess == nil || !slices.Contains(allowed, sess.Role) {
				userID, role := "", ""
				if sess != nil {
					userID, role = sess.UserID, sess.Role
				}
				s.LogSecurityEvent(r.Context(), audit.EventUnauthorizedRoleAccess,
					fmt.Sprintf("User %s with role %s attempted access to %s requiring %v", userID, role, r.URL.Path, allowed),
					audit.SeverityWarning)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		}))
	}
}

// CSRFProtect demands a valid single-use token on state-changing methods.
func (s *Security) CSRFProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mutatingMethod(r.Method) || s.csrfExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		r, _ = s.withRequest(r)
		if !s.ValidateCSRFToken(r.Context(), csrf.TokenFromRequest(r)) {
			writeError(w, http.StatusForbidden, "csrf token validation failed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Security) csrfExempt(path string) bool {
	for _, prefix := range s.cfg.CSRFExemptPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func mutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func hasSessionCookie(r *http.Request) bool {
	c, err := r.Cookie(session.CookieName)
	return err == nil && c.Value != ""
}

// StartSession replaces whatever session the request carried with sess.
func (s *Security) StartSession(w http.ResponseWriter, r *http.Request, sess *session.Session) (*http.Request, error) {
	if err := s.cookies.Save(w, sess); err != nil {
		return r, err
	}
	return r.WithContext(ContextWithSession(r.Context(), sess)), nil
}

func (s *Security) EndSession(w http.ResponseWriter, r *http.Request) {
	if sess := SessionFromContext(r.Context()); sess != nil {
		sess.Clear()
	}
	s.cookies.Clear(w)
}
