package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/security"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

const (
	minPasswordLength = 12
	maxPasswordLength = 200
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidMFACode     = errors.New("invalid mfa code")
	ErrInvalidUserInput   = errors.New("invalid user input")
)

type ErrLoginLocked struct {
	RetryAfter time.Duration
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

// dummyHash keeps the unknown-user path as slow as a real password check.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password-placeholder"), bcrypt.DefaultCost)

type Service struct {
	repo *Repository
	sec  *security.Security
}

func NewService(repo *Repository, sec *security.Security) *Service {
	return &Service{repo: repo, sec: sec}
}

func NormalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}

// Login reserves an attempt before touching credentials, so a locked identity
// is refused even with the right password and parallel guesses cannot run past
// the lockout limit. The reservation stays as the recorded failure unless the
// password matches.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	if !s.sec.ReserveLoginAttempt(ctx, username) {
		return LoginResult{}, ErrLoginLocked{RetryAfter: s.sec.LockoutRemaining(ctx, username)}
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return LoginResult{}, err
	}

	hash := dummyHash
	if err == nil {
		hash = []byte(user.PasswordHash)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || err != nil {
		return LoginResult{}, s.loginFailed(ctx, "Failed login attempt for username "+username)
	}

	if err := s.sec.ClearFailedAttempts(ctx, username); err != nil {
		return LoginResult{}, err
	}

	enrolled, err := s.sec.MFA().Enabled(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if enrolled {
		return LoginResult{User: user, MFARequired: true}, nil
	}

	s.loginSucceeded(ctx, user)
	return LoginResult{User: user}, nil
}

// VerifyMFA completes a login that stopped at the second factor.
func (s *Service) VerifyMFA(ctx context.Context, pendingUserID, code string) (User, error) {
	user, err := s.repo.GetByID(ctx, pendingUserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidMFACode
		}
		return User{}, err
	}

	if !s.sec.ReserveLoginAttempt(ctx, user.Username) {
		return User{}, ErrLoginLocked{RetryAfter: s.sec.LockoutRemaining(ctx, user.Username)}
	}

	if !s.sec.MFA().Verify(ctx, user.ID, code) {
		return User{}, ErrInvalidMFACode
	}

	if err := s.sec.ClearFailedAttempts(ctx, user.Username); err != nil {
		return User{}, err
	}

	s.loginSucceeded(ctx, user)
	return user, nil
}

func (s *Service) loginFailed(ctx context.Context, details string) error {
	s.sec.Log(ctx, audit.Entry{
		EventType: audit.EventLoginFailed,
		Details:   details,
		Severity:  audit.SeverityWarning,
	})
	return ErrInvalidCredentials
}

func (s *Service) loginSucceeded(ctx context.Context, user User) {
	s.sec.Log(ctx, audit.Entry{
		EventType: audit.EventLoginSuccess,
		Details:   fmt.Sprintf("User %s logged in with role %s", user.Username, user.Role),
		Severity:  audit.SeverityInfo,
		UserID:    user.ID,
	})
}

// CreateUser validates and stores an account; existing usernames are updated.
func (s *Service) CreateUser(ctx context.Context, username, password, role, facility string) (User, error) {
	username = NormalizeUsername(username)
	if !usernameRegex.MatchString(username) {
		return User{}, fmt.Errorf("%w: username format is invalid", ErrInvalidUserInput)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return User{}, fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidUserInput, minPasswordLength, maxPasswordLength)
	}
	if !security.ValidRole(role) {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidUserInput, role)
	}

	return s.repo.UpsertUser(ctx, username, password, role, strings.TrimSpace(facility))
}

func (s *Service) Lookup(ctx context.Context, username string) (User, error) {
	return s.repo.GetByUsername(ctx, NormalizeUsername(username))
}

func (s *Service) BootstrapFromEnv(ctx context.Context, adminUsername, adminPassword string) error {
	adminUsername = NormalizeUsername(adminUsername)
	adminPassword = strings.TrimSpace(adminPassword)

	if adminUsername == "" && adminPassword == "" {
		return nil
	}
	if adminUsername == "" || adminPassword == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	_, err := s.CreateUser(ctx, adminUsername, adminPassword, security.RoleAdmin, "")
	return err
}
