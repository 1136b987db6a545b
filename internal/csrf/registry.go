// Package csrf issues single-use, user-bound anti-forgery tokens.
package csrf

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"hipaa-training/internal/audit"
)

const (
	HeaderName = "X-CSRF-Token"
	FormField  = "csrf_token"

	DefaultTTL = time.Hour
	tokenBytes = 64

	sweepEvery = time.Minute
	sweepBatch = 500
)

var ErrTokenGeneration = errors.New("csrf token generation failed")

type Store interface {
	Insert(ctx context.Context, token, userID string, createdAt, expiresAt time.Time) error
	Consume(ctx context.Context, token, userID string, now time.Time) (bool, error)
	PruneBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type Auditor interface {
	Log(ctx context.Context, entry audit.Entry) audit.Event
}

type Registry struct {
	store Store
	audit Auditor
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
}

func NewRegistry(store Store, auditor Auditor) *Registry {
	return &Registry{
		store: store,
		audit: auditor,
		ttl:   DefaultTTL,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) WithTTL(ttl time.Duration) *Registry {
	if ttl > 0 {
		r.ttl = ttl
	}
	return r
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Issue stores a fresh token for userID. Any failure is reported as ErrTokenGeneration.
func (r *Registry) Issue(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: missing user", ErrTokenGeneration)
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := r.now().UTC()
	if err := r.store.Insert(ctx, token, userID, now, now.Add(r.ttl)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	return token, nil
}

// Validate consumes token if it is live and bound to userID. Every rejection is audited.
func (r *Registry) Validate(ctx context.Context, token, userID string) bool {
	now := r.now().UTC()
	r.sweep(ctx, now)

	if token == "" || userID == "" {
		r.reject(ctx, userID, "missing token or session")
		return false
	}

	ok, err := r.store.Consume(ctx, token, userID, now)
	if err != nil {
		r.reject(ctx, userID, "token store unavailable")
		return false
	}
	if !ok {
		r.reject(ctx, userID, "token invalid, expired or not owned by session")
		return false
	}

	return true
}

// SweepExpired removes every token that has expired by now.
func (r *Registry) SweepExpired(ctx context.Context) (int64, error) {
	now := r.now().UTC()
	var total int64
	for {
		n, err := r.store.PruneBefore(ctx, now, sweepBatch)
		total += n
		if err != nil {
			return total, err
		}
		if n < sweepBatch {
			return total, nil
		}
	}
}

func (r *Registry) sweep(ctx context.Context, now time.Time) {
	r.mu.Lock()
	if !r.lastSweep.IsZero() && now.Sub(r.lastSweep) < sweepEvery {
		r.mu.Unlock()
		return
	}
	r.lastSweep = now
	r.mu.Unlock()

	// best effort; the scheduled purge catches anything left behind
	_, _ = r.store.PruneBefore(ctx, now, sweepBatch)
}

func (r *Registry) reject(ctx context.Context, userID, reason string) {
	if r.audit == nil {
		return
	}

	details := "CSRF token validation failed: " + reason
	if info, ok := audit.RequestFromContext(ctx); ok && info.Path != "" {
		details = fmt.Sprintf("CSRF token validation failed for %s %s: %s", info.Method, info.Path, reason)
	}

	r.audit.Log(ctx, audit.Entry{
		EventType: audit.EventCSRFValidationFailed,
		Details:   details,
		Severity:  audit.SeverityWarning,
		UserID:    userID,
	})
}

// TokenFromRequest reads the submitted token from the header, falling back to the form field.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(HeaderName)); token != "" {
		return token
	}
	return strings.TrimSpace(r.PostFormValue(FormField))
}
