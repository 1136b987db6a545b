package app_test

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hipaa-training/internal/app"
	"hipaa-training/internal/audit"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "app.db"))
	t.Setenv("SESSION_SECRET", "bootstrap-test-secret-0123456789abcdef")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("AUDIT_FALLBACK_PATH", filepath.Join(dir, "fallback.log"))
	t.Setenv("ADMIN_USERNAME", "admin.root")
	t.Setenv("ADMIN_PASSWORD", "admin password 123")
	t.Setenv("CRON_SECRET", "cron-secret")
	t.Setenv("LOG_LEVEL", "error")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setupEnv(t)

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 15, int(cfg.Security.SessionTimeout.Minutes()))
	assert.Equal(t, 5, cfg.Security.MaxFailedAttempts)
	assert.Equal(t, 2190, int(cfg.Security.AuditRetention.Hours()/24))
	assert.Equal(t, 3600, int(cfg.Security.CSRFTokenTTL.Seconds()))
	assert.Equal(t, 30, cfg.Security.MFAInterval)
	assert.Equal(t, 1, cfg.Security.MFASkew)
	assert.False(t, cfg.CookieSecure)
}

func TestLoadConfig_Errors(t *testing.T) {
	setupEnv(t)
	t.Setenv("SESSION_SECRET", "")
	_, err := app.LoadConfig()
	assert.ErrorContains(t, err, "SESSION_SECRET")

	setupEnv(t)
	t.Setenv("AUDIT_RETENTION_DAYS", "30")
	_, err = app.LoadConfig()
	assert.ErrorContains(t, err, "AUDIT_RETENTION_DAYS")
}

func TestBuild_EndToEnd(t *testing.T) {
	setupEnv(t)

	runtime, err := app.Build(app.Options{RunMigrations: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close() })

	server := httptest.NewServer(runtime.Handler)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	resp, err := client.Get(server.URL + "/admin/audit-logs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = client.Post(server.URL+"/auth/login", "application/json",
		strings.NewReader(`{"username":"admin.root","password":"admin password 123"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Post(server.URL+"/api/checklist/2", "application/json", strings.NewReader(`{"completed":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "mutation without csrf token")

	resp, err = client.Get(server.URL + "/api/csrf-token")
	require.NoError(t, err)
	var tokenBody map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokenBody))
	resp.Body.Close()
	require.NotEmpty(t, tokenBody["csrf_token"])

	req, err := http.NewRequest("POST", server.URL+"/api/checklist/2", strings.NewReader(`{"completed":true}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", tokenBody["csrf_token"])
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(server.URL + "/admin/audit-logs?days=1")
	require.NoError(t, err)
	var logs struct {
		Events []audit.Event `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	seen := map[audit.EventType]bool{}
	for _, e := range logs.Events {
		seen[e.EventType] = true
	}
	assert.True(t, seen[audit.EventLoginSuccess])
	assert.True(t, seen[audit.EventUnauthenticatedAccess])
	assert.True(t, seen[audit.EventCSRFValidationFailed])
	assert.True(t, seen[audit.EventChecklistUpdated])

	purgeReq, err := http.NewRequest("POST", server.URL+"/internal/maintenance/purge", nil)
	require.NoError(t, err)
	purgeReq.Header.Set("Authorization", "Bearer cron-secret")
	resp, err = http.DefaultClient.Do(purgeReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
