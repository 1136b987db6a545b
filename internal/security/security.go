// Package security is the single entry point the application uses for
// sessions, guards, CSRF, brute-force tracking, MFA and the audit trail.
package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"hipaa-training/internal/attempts"
	"hipaa-training/internal/audit"
	"hipaa-training/internal/csrf"
	"hipaa-training/internal/mfa"
	"hipaa-training/internal/observability"
	"hipaa-training/internal/session"
)

var ErrNotAuthenticated = errors.New("not authenticated")

type Deps struct {
	DB       *sqlx.DB
	Cookies  *session.CookieCodec
	Fallback audit.Sink
	Logger   *observability.Logger
	Now      func() time.Time
}

type Security struct {
	cfg       Config
	cookies   *session.CookieCodec
	logger    *observability.Logger
	audit     *audit.Logger
	validator *session.Validator
	attempts  *attempts.Tracker
	csrf      *csrf.Registry
	mfa       *mfa.Service
	purger    *audit.Purger
}

func New(cfg Config, deps Deps) (*Security, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("security config: %w", err)
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("security: database is required")
	}
	if deps.Cookies == nil {
		return nil, fmt.Errorf("security: cookie codec is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}

	auditRepo := audit.NewRepository(deps.DB)
	attemptRepo := attempts.NewRepository(deps.DB)
	tokenRepo := csrf.NewRepository(deps.DB)

	s := &Security{
		cfg:     cfg,
		cookies: deps.Cookies,
		logger:  deps.Logger,
		audit:   audit.NewLogger(auditRepo, deps.Fallback, deps.Logger),
	}

	s.validator = session.NewValidator(cfg.SessionTimeout, s, deps.Logger)
	s.attempts = attempts.NewTracker(attemptRepo, s).WithPolicy(cfg.MaxFailedAttempts, cfg.LockoutDuration)
	s.csrf = csrf.NewRegistry(tokenRepo, s).WithTTL(cfg.CSRFTokenTTL)
	s.mfa = mfa.NewService(mfa.NewRepository(deps.DB), s).WithPolicy(cfg.MFAInterval, cfg.MFASkew)
	s.purger = audit.NewPurger(auditRepo, attemptRepo, tokenRepo, cfg.AuditRetention, cfg.PurgeBatchSize)

	if deps.Now != nil {
		s.audit.WithClock(deps.Now)
		s.validator.WithClock(deps.Now)
		s.attempts.WithClock(deps.Now)
		s.csrf.WithClock(deps.Now)
		s.mfa.WithClock(deps.Now)
		s.purger.WithClock(deps.Now)
	}

	return s, nil
}

func (s *Security) Config() Config                { return s.cfg }
func (s *Security) Cookies() *session.CookieCodec { return s.cookies }
func (s *Security) Validator() *session.Validator { return s.validator }
func (s *Security) MFA() *mfa.Service             { return s.mfa }
func (s *Security) Purger() *audit.Purger         { return s.purger }

// Log records entry, attributing it to the session user when the caller did not.
func (s *Security) Log(ctx context.Context, entry audit.Entry) audit.Event {
	if entry.UserID == "" {
		entry.UserID = currentUserID(ctx)
	}
	return s.audit.Log(ctx, entry)
}

func (s *Security) LogSecurityEvent(ctx context.Context, eventType audit.EventType, details string, severity audit.Severity) {
	s.Log(ctx, audit.Entry{EventType: eventType, Details: details, Severity: severity})
}

// GenerateCSRFToken issues a token bound to the session user in ctx.
func (s *Security) GenerateCSRFToken(ctx context.Context) (string, error) {
	userID := currentUserID(ctx)
	if userID == "" {
		return "", ErrNotAuthenticated
	}
	return s.csrf.Issue(ctx, userID)
}

func (s *Security) ValidateCSRFToken(ctx context.Context, token string) bool {
	return s.csrf.Validate(ctx, token, currentUserID(ctx))
}

// CheckBruteForce reports whether identity may attempt a login. Store errors deny.
func (s *Security) CheckBruteForce(ctx context.Context, identity string) bool {
	allowed, err := s.attempts.Check(ctx, identity)
	if err != nil {
		s.logger.Error("brute_force_check_failed", map[string]any{"error": err.Error()})
		observability.CaptureError("attempts", err)
		return false
	}
	return allowed
}

// ReserveLoginAttempt admits identity to one credential check and counts it as
// a failure until ClearFailedAttempts runs. Concurrent callers for the same
// identity are serialized in the store, so no more than the configured number
// of checks can run inside one window. Store errors deny.
func (s *Security) ReserveLoginAttempt(ctx context.Context, identity string) bool {
	allowed, err := s.attempts.Reserve(ctx, identity, requestIP(ctx))
	if err != nil {
		s.logger.Error("login_attempt_reserve_failed", map[string]any{"error": err.Error()})
		observability.CaptureError("attempts", err)
		return false
	}
	return allowed
}

func (s *Security) RecordFailedAttempt(ctx context.Context, identity string) error {
	return s.attempts.RecordFailure(ctx, identity, requestIP(ctx))
}

func (s *Security) ClearFailedAttempts(ctx context.Context, identity string) error {
	return s.attempts.Clear(ctx, identity)
}

// LockoutRemaining is how long identity must wait before its oldest failure ages out.
func (s *Security) LockoutRemaining(ctx context.Context, identity string) time.Duration {
	wait, err := s.attempts.RetryAfter(ctx, identity)
	if err != nil || wait <= 0 {
		return s.cfg.LockoutDuration
	}
	return wait
}

func requestIP(ctx context.Context) string {
	if info, ok := audit.RequestFromContext(ctx); ok && info.IPAddress != "" {
		return info.IPAddress
	}
	return audit.UnknownIP
}

func (s *Security) GetAuditLogs(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	return s.audit.Query(ctx, filter)
}

func (s *Security) PurgeExpired(ctx context.Context) (audit.PurgeResult, error) {
	return s.purger.PurgeExpired(ctx)
}
