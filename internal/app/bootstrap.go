package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/auth"
	"hipaa-training/internal/db"
	"hipaa-training/internal/maintenance"
	"hipaa-training/internal/observability"
	"hipaa-training/internal/security"
	"hipaa-training/internal/session"
	"hipaa-training/internal/training"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config    Config
	Handler   http.Handler
	Logger    *observability.Logger
	Security  *security.Security
	Users     *auth.Service
	Scheduler *maintenance.Scheduler
	Close     func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, dialect, err := db.Open(cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database, dialect); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	cookies, err := session.NewCookieCodec(cfg.SessionSecret, cfg.CookieSecure)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	fallback := audit.NewFileSink(cfg.Fallback)
	closeAll := func() error {
		observability.FlushSentry()
		_ = fallback.Close()
		_ = logger.Sync()
		return database.Close()
	}

	sec, err := security.New(cfg.Security, security.Deps{
		DB:       database,
		Cookies:  cookies,
		Fallback: fallback,
		Logger:   logger,
	})
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	users := auth.NewService(auth.NewRepository(database), sec)
	if err := users.BootstrapFromEnv(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	authHandler := auth.NewHandler(users, sec, logger)
	trainingHandler := training.NewHandler(sec)
	cleanupHandler := maintenance.NewCleanupHandler(sec, logger)
	loginLimiter := auth.NewLoginRateLimiter(cfg.LoginRateLimitPerMinute)

	authenticated := func(h http.HandlerFunc) http.Handler {
		return security.Chain(h, sec.RequireAuthentication)
	}
	mutating := func(h http.HandlerFunc) http.Handler {
		return security.Chain(h, sec.RequireAuthentication, sec.CSRFProtect)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /auth/mfa/verify", loginLimiter.Middleware(http.HandlerFunc(authHandler.VerifyMFA)))
	mux.Handle("POST /auth/logout", mutating(authHandler.Logout))
	mux.Handle("GET /api/csrf-token", authenticated(authHandler.CSRFToken))
	mux.Handle("POST /api/session/extend", mutating(authHandler.ExtendSession))
	mux.Handle("POST /api/mfa/enable", mutating(authHandler.EnableMFA))
	mux.Handle("POST /api/lessons/{name}/complete", mutating(trainingHandler.CompleteLesson))
	mux.Handle("POST /api/quiz/submit", mutating(trainingHandler.SubmitQuiz))
	mux.Handle("POST /api/checklist/{id}", mutating(trainingHandler.UpdateChecklist))
	mux.Handle("GET /admin/audit-logs", sec.RequireRole(security.RoleAdmin)(http.HandlerFunc(authHandler.AuditLogs)))
	mux.Handle("/internal/maintenance/purge", auth.BearerSecret(cfg.CronSecret, http.HandlerFunc(cleanupHandler.Handle)))
	mux.HandleFunc("GET /health", healthHandler(database))
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, sec.LoadRequest(mux)))

	return &Runtime{
		Config:    cfg,
		Handler:   handler,
		Logger:    logger,
		Security:  sec,
		Users:     users,
		Scheduler: maintenance.NewScheduler(sec, logger, cfg.PurgeInterval),
		Close:     closeAll,
	}, nil
}

func healthHandler(database *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
