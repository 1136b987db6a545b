package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/observability"
	"hipaa-training/internal/security"
	"hipaa-training/internal/session"
)

const (
	maxJSONBodyBytes   = 1 << 20
	maxAuditQueryDays  = 2190
	defaultAuditLimit  = 500
	maxAuditQueryLimit = 5000
)

type Handler struct {
	service *Service
	sec     *security.Security
	logger  *observability.Logger
	now     func() time.Time
}

func NewHandler(service *Service, sec *security.Security, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{
		service: service,
		sec:     sec,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type mfaVerifyRequest struct {
	Code string `json:"code"`
}

type sessionResponse struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Facility string `json:"facility,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r, _ = h.sec.RequestSession(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(body.Username) > 100 || len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusBadRequest, "invalid credentials format")
		return
	}

	result, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.writeLoginError(w, err, "failed to login")
		return
	}

	now := h.now()
	if result.MFARequired {
		pending := &session.Session{MFAPending: result.User.ID}
		pending.Touch(now)
		if _, err := h.sec.StartSession(w, r, pending); err != nil {
			h.internalError(w, "session_save_failed", err, "failed to login")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"mfa_required": true})
		return
	}

	h.establish(w, r, result.User, now)
}

func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	r, sess := h.sec.RequestSession(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	pending := &session.Session{UserID: sess.MFAPending, LastActivity: sess.LastActivity}
	if sess.MFAPending == "" || !h.sec.Validator().Validate(r.Context(), pending) {
		h.sec.EndSession(w, r)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body mfaVerifyRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	user, err := h.service.VerifyMFA(r.Context(), sess.MFAPending, body.Code)
	if err != nil {
		if errors.Is(err, ErrInvalidMFACode) {
			writeError(w, http.StatusUnauthorized, "invalid verification code")
			return
		}
		h.writeLoginError(w, err, "failed to verify code")
		return
	}

	h.establish(w, r, user, h.now())
}

func (h *Handler) establish(w http.ResponseWriter, r *http.Request, user User, now time.Time) {
	sess := session.Start(user.ID, user.Role, user.Facility, now)
	if _, err := h.sec.StartSession(w, r, sess); err != nil {
		h.internalError(w, "session_save_failed", err, "failed to login")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{UserID: user.ID, Role: user.Role, Facility: user.Facility})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	var lockedErr ErrLoginLocked
	if errors.As(err, &lockedErr) {
		retryAfter := int(lockedErr.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	h.internalError(w, "login_failed", err, fallback)
}

// Logout runs behind RequireAuthentication and CSRFProtect.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sec.LogSecurityEvent(r.Context(), audit.EventLogout, "User logged out", audit.SeverityInfo)
	h.sec.EndSession(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.sec.GenerateCSRFToken(r.Context())
	if err != nil {
		h.internalError(w, "csrf_token_generation_failed", err, "failed to generate csrf token")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	sess := security.SessionFromContext(r.Context())
	if sess == nil || !h.sec.Validator().Extend(r.Context(), sess) {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := h.sec.Cookies().Save(w, sess); err != nil {
		h.internalError(w, "session_save_failed", err, "failed to extend session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"last_activity":   sess.LastActivity,
		"timeout_seconds": int(h.sec.Validator().Timeout().Seconds()),
	})
}

func (h *Handler) EnableMFA(w http.ResponseWriter, r *http.Request) {
	sess := security.SessionFromContext(r.Context())
	if sess == nil || sess.UserID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	enrollment, err := h.sec.MFA().Enable(r.Context(), sess.UserID)
	if err != nil {
		h.internalError(w, "mfa_enable_failed", err, "failed to enable mfa")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, enrollment)
}

// AuditLogs is the admin reporting query; routing restricts it to the Admin role.
func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := audit.Filter{
		UserID: strings.TrimSpace(query.Get("user_id")),
		Limit:  defaultAuditLimit,
	}

	if raw := strings.TrimSpace(query.Get("days")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 || days > maxAuditQueryDays {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 2190")
			return
		}
		filter.Days = days
	}
	if raw := strings.TrimSpace(query.Get("severity")); raw != "" {
		severity, ok := audit.ParseSeverity(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "severity must be INFO, WARNING or ERROR")
			return
		}
		filter.Severity = severity
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxAuditQueryLimit {
			writeError(w, http.StatusBadRequest, "limit is invalid")
			return
		}
		filter.Limit = limit
	}

	events, err := h.sec.GetAuditLogs(r.Context(), filter)
	if err != nil {
		h.internalError(w, "audit_query_failed", err, "failed to load audit logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (h *Handler) internalError(w http.ResponseWriter, message string, err error, public string) {
	h.logger.Error(message, map[string]any{"error": err.Error()})
	observability.CaptureError("auth", err)
	writeError(w, http.StatusInternalServerError, public)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
