// Package mfa adds an optional TOTP second factor after the password check.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"hipaa-training/internal/audit"
)

const (
	Issuer          = "HIPAA Training System"
	DefaultInterval = 30
	DefaultSkew     = 1
)

var ErrMissingUser = errors.New("mfa: user id required")

type Store interface {
	Upsert(ctx context.Context, userID, secret string, now time.Time) error
	Get(ctx context.Context, userID string) (string, bool, error)
}

type Auditor interface {
	Log(ctx context.Context, entry audit.Entry) audit.Event
}

type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

type Service struct {
	store    Store
	audit    Auditor
	interval uint
	skew     uint
	now      func() time.Time
}

func NewService(store Store, auditor Auditor) *Service {
	return &Service{
		store:    store,
		audit:    auditor,
		interval: DefaultInterval,
		skew:     DefaultSkew,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithPolicy(interval, skew int) *Service {
	if interval > 0 {
		s.interval = uint(interval)
	}
	if skew >= 0 {
		s.skew = uint(skew)
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ValidateOpts is the code shape shared by Verify and anything generating codes.
func (s *Service) ValidateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    s.interval,
		Skew:      s.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Enable generates and stores a new shared secret, replacing any previous one.
func (s *Service) Enable(ctx context.Context, userID string) (Enrollment, error) {
	if userID == "" {
		return Enrollment{}, ErrMissingUser
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: userID,
		Period:      s.interval,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}

	if err := s.store.Upsert(ctx, userID, key.Secret(), s.now()); err != nil {
		return Enrollment{}, err
	}

	if s.audit != nil {
		s.audit.Log(ctx, audit.Entry{
			EventType: audit.EventMFAEnabled,
			Details:   "TOTP multi-factor authentication enabled",
			Severity:  audit.SeverityInfo,
			UserID:    userID,
		})
	}

	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

func (s *Service) Enabled(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	_, ok, err := s.store.Get(ctx, userID)
	return ok, err
}

// Verify checks code against the stored secret within the configured skew.
// Unknown users and store errors verify as false.
func (s *Service) Verify(ctx context.Context, userID, code string) bool {
	code = strings.TrimSpace(code)

	ok := false
	if userID != "" && code != "" {
		secret, found, err := s.store.Get(ctx, userID)
		if err == nil && found {
			ok, _ = totp.ValidateCustom(code, secret, s.now(), s.ValidateOpts())
		}
	}

	if s.audit != nil {
		entry := audit.Entry{
			EventType: audit.EventMFAVerified,
			Details:   "TOTP code accepted",
			Severity:  audit.SeverityInfo,
			UserID:    userID,
		}
		if !ok {
			entry.EventType = audit.EventMFAFailed
			entry.Details = "TOTP code rejected"
			entry.Severity = audit.SeverityWarning
		}
		s.audit.Log(ctx, entry)
	}

	return ok
}
