package security

import (
	"fmt"
	"time"
)

const (
	RoleAdmin      = "Admin"
	RolePharmacist = "Pharmacist"
	RoleTechnician = "Technician"
	RoleTrainee    = "Trainee"
)

var knownRoles = map[string]struct{}{
	RoleAdmin:      {},
	RolePharmacist: {},
	RoleTechnician: {},
	RoleTrainee:    {},
}

func ValidRole(role string) bool {
	_, ok := knownRoles[role]
	return ok
}

// MinAuditRetention is the six-year floor for keeping audit records.
const MinAuditRetention = 2190 * 24 * time.Hour

type Config struct {
	SessionTimeout    time.Duration
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	AuditRetention    time.Duration
	CSRFTokenTTL      time.Duration
	MFAInterval       int
	MFASkew           int
	PurgeBatchSize    int

	// Path prefixes for machine-to-machine endpoints that authenticate by other means.
	CSRFExemptPrefixes []string
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout:     15 * time.Minute,
		MaxFailedAttempts:  5,
		LockoutDuration:    15 * time.Minute,
		AuditRetention:     MinAuditRetention,
		CSRFTokenTTL:       3600 * time.Second,
		MFAInterval:        30,
		MFASkew:            1,
		PurgeBatchSize:     500,
		CSRFExemptPrefixes: []string{"/internal/"},
	}
}

func (c Config) Validate() error {
	switch {
	case c.SessionTimeout <= 0:
		return fmt.Errorf("SESSION_TIMEOUT_MINUTES must be positive")
	case c.MaxFailedAttempts <= 0:
		return fmt.Errorf("MAX_FAILED_ATTEMPTS must be positive")
	case c.LockoutDuration <= 0:
		return fmt.Errorf("LOCKOUT_DURATION_MINUTES must be positive")
	case c.AuditRetention < MinAuditRetention:
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be at least %d", int(MinAuditRetention.Hours()/24))
	case c.CSRFTokenTTL <= 0:
		return fmt.Errorf("CSRF_TOKEN_TIMEOUT must be positive")
	case c.MFAInterval <= 0:
		return fmt.Errorf("MFA_TOTP_INTERVAL must be positive")
	case c.MFASkew < 0:
		return fmt.Errorf("MFA_TOTP_SKEW must not be negative")
	case c.PurgeBatchSize <= 0:
		return fmt.Errorf("PURGE_BATCH_SIZE must be positive")
	}
	return nil
}
