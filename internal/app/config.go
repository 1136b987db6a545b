package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/db"
	"hipaa-training/internal/security"
)

type Config struct {
	DatabaseURL   string
	SessionSecret string
	CookieSecure  bool
	Port          string
	AppEnv        string
	LogLevel      string
	SentryDSN     string
	CronSecret    string

	AdminUsername string
	AdminPassword string

	MetricsEnabled          bool
	PurgeInterval           time.Duration
	LoginRateLimitPerMinute int

	Pool     db.PoolOptions
	Fallback audit.FileSinkConfig
	Security security.Config
}

// LoadConfig reads the process environment. Only DATABASE_URL and
// SESSION_SECRET are required.
func LoadConfig() (Config, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	sessionSecret, err := mustEnv("SESSION_SECRET")
	if err != nil {
		return Config{}, err
	}

	defaults := security.DefaultConfig()
	sec := security.Config{
		SessionTimeout:     envMinutesOrDefault("SESSION_TIMEOUT_MINUTES", 15),
		MaxFailedAttempts:  envIntOrDefault("MAX_FAILED_ATTEMPTS", defaults.MaxFailedAttempts),
		LockoutDuration:    envMinutesOrDefault("LOCKOUT_DURATION_MINUTES", 15),
		AuditRetention:     envDaysOrDefault("AUDIT_RETENTION_DAYS", 2190),
		CSRFTokenTTL:       envSecondsOrDefault("CSRF_TOKEN_TIMEOUT", 3600),
		MFAInterval:        envIntOrDefault("MFA_TOTP_INTERVAL", defaults.MFAInterval),
		MFASkew:            envNonNegativeIntOrDefault("MFA_TOTP_SKEW", defaults.MFASkew),
		PurgeBatchSize:     envIntOrDefault("PURGE_BATCH_SIZE", defaults.PurgeBatchSize),
		CSRFExemptPrefixes: defaults.CSRFExemptPrefixes,
	}
	if err := sec.Validate(); err != nil {
		return Config{}, err
	}

	return Config{
		DatabaseURL:   databaseURL,
		SessionSecret: sessionSecret,
		CookieSecure:  EnvBoolOrDefault("COOKIE_SECURE", true),
		Port:          envOrDefault("PORT", "8080"),
		AppEnv:        envOrDefault("APP_ENV", "development"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		CronSecret:    strings.TrimSpace(os.Getenv("CRON_SECRET")),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		MetricsEnabled:          EnvBoolOrDefault("METRICS_ENABLED", true),
		PurgeInterval:           envMinutesOrDefault("PURGE_INTERVAL_MINUTES", 60),
		LoginRateLimitPerMinute: envIntOrDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10),

		Pool: db.PoolOptions{
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		},
		Fallback: audit.FileSinkConfig{
			Path:       envOrDefault("AUDIT_FALLBACK_PATH", "logs/fallback_security.log"),
			MaxSizeMB:  envIntOrDefault("AUDIT_FALLBACK_MAX_MB", 10),
			MaxBackups: envNonNegativeIntOrDefault("AUDIT_FALLBACK_MAX_BACKUPS", 0),
		},
		Security: sec,
	}, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envNonNegativeIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
