package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/auth"
	"hipaa-training/internal/db/dbtest"
	"hipaa-training/internal/security"
	"hipaa-training/internal/session"
)

const (
	sessionSecret = "auth-test-session-secret-0123456789"
	password      = "correct horse battery"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	sec     *security.Security
	service *auth.Service
	handler *auth.Handler
	clock   *clock
	user    auth.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := dbtest.Open(t)
	cookies, err := session.NewCookieCodec(sessionSecret, false)
	require.NoError(t, err)

	c := &clock{t: time.Date(2026, time.September, 7, 8, 30, 0, 0, time.UTC)}
	sec, err := security.New(security.DefaultConfig(), security.Deps{DB: database, Cookies: cookies, Now: c.now})
	require.NoError(t, err)

	service := auth.NewService(auth.NewRepository(database), sec)
	user, err := service.CreateUser(context.Background(), "Pharm.Jones", password, security.RolePharmacist, "Downtown")
	require.NoError(t, err)

	return &fixture{
		sec:     sec,
		service: service,
		handler: auth.NewHandler(service, sec, nil).WithClock(c.now),
		clock:   c,
		user:    user,
	}
}

func (f *fixture) events(t *testing.T, eventType audit.EventType) []audit.Event {
	t.Helper()
	all, err := f.sec.GetAuditLogs(context.Background(), audit.Filter{Days: 1})
	require.NoError(t, err)
	var out []audit.Event
	for _, e := range all {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func loginRequest(username, pw string) *http.Request {
	body, _ := json.Marshal(map[string]string{"username": username, "password": pw})
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(string(body)))
	req.RemoteAddr = "198.51.100.20:5555"
	return req
}

func TestService_CreateUserValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "pharm.jones", f.user.Username)
	assert.Equal(t, "Downtown", f.user.Facility)
	assert.NotEqual(t, password, f.user.PasswordHash)

	_, err := f.service.CreateUser(ctx, "x", password, security.RoleTrainee, "")
	assert.ErrorIs(t, err, auth.ErrInvalidUserInput)
	_, err = f.service.CreateUser(ctx, "valid.name", "short", security.RoleTrainee, "")
	assert.ErrorIs(t, err, auth.ErrInvalidUserInput)
	_, err = f.service.CreateUser(ctx, "valid.name", password, "Janitor", "")
	assert.ErrorIs(t, err, auth.ErrInvalidUserInput)

	updated, err := f.service.CreateUser(ctx, "pharm.jones", password+"!", security.RoleAdmin, "Uptown")
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, updated.ID)
	assert.Equal(t, security.RoleAdmin, updated.Role)
}

func TestService_LockoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.service.Login(ctx, "pharm.jones", "wrong password!!")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
		f.clock.t = f.clock.t.Add(time.Minute)
	}

	_, err := f.service.Login(ctx, "pharm.jones", password)
	var locked auth.ErrLoginLocked
	require.ErrorAs(t, err, &locked)
	assert.Positive(t, locked.RetryAfter)
	assert.Len(t, f.events(t, audit.EventLoginFailed), 5)
	assert.Len(t, f.events(t, audit.EventBruteForceLockout), 1)

	f.clock.t = f.clock.t.Add(15 * time.Minute)
	result, err := f.service.Login(ctx, "pharm.jones", password)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, result.User.ID)
	assert.False(t, result.MFARequired)

	success := f.events(t, audit.EventLoginSuccess)
	require.Len(t, success, 1)
	assert.Equal(t, f.user.ID, success[0].UserID)
}

func TestService_ConcurrentBadLoginsStopAtLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.service.Login(ctx, "pharm.jones", "wrong password!!")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	var checked, locked atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Login(ctx, "pharm.jones", "wrong password!!")
			var lockedErr auth.ErrLoginLocked
			switch {
			case errors.Is(err, auth.ErrInvalidCredentials):
				checked.Add(1)
			case errors.As(err, &lockedErr):
				locked.Add(1)
			default:
				t.Errorf("unexpected login result: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), checked.Load())
	assert.Equal(t, int32(9), locked.Load())
	assert.Len(t, f.events(t, audit.EventLoginFailed), 5)

	_, err := f.service.Login(ctx, "pharm.jones", password)
	var lockedErr auth.ErrLoginLocked
	assert.ErrorAs(t, err, &lockedErr)
}

func TestService_UnknownUserLooksLikeBadPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Login(context.Background(), "ghost.user", password)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Len(t, f.events(t, audit.EventLoginFailed), 1)
}

func TestHandler_LoginSetsSessionCookie(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Login(rec, loginRequest("pharm.jones", password))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	sess, err := f.sec.Cookies().Decode(cookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, sess.UserID)
	assert.Equal(t, security.RolePharmacist, sess.Role)
	assert.Equal(t, "Downtown", sess.Facility)
}

func TestHandler_LoginLockedReturnsRetryAfter(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		f.handler.Login(rec, loginRequest("pharm.jones", "wrong password!!"))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := httptest.NewRecorder()
	f.handler.Login(rec, loginRequest("pharm.jones", password))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many attempts")
	assert.Empty(t, rec.Result().Cookies())

	failures := f.events(t, audit.EventLoginFailed)
	require.NotEmpty(t, failures)
	assert.Equal(t, "198.51.100.20", failures[0].IPAddress)
}

func TestHandler_MFAFlow(t *testing.T) {
	f := newFixture(t)
	enrollment, err := f.sec.MFA().Enable(context.Background(), f.user.ID)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.handler.Login(rec, loginRequest("pharm.jones", password))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"mfa_required":true}`, rec.Body.String())

	pendingCookie := rec.Result().Cookies()[0]
	pending, err := f.sec.Cookies().Decode(pendingCookie.Value)
	require.NoError(t, err)
	assert.Empty(t, pending.UserID)
	assert.Equal(t, f.user.ID, pending.MFAPending)

	verify := func(code string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/auth/mfa/verify", strings.NewReader(`{"code":"`+code+`"}`))
		req.AddCookie(pendingCookie)
		rec := httptest.NewRecorder()
		f.handler.VerifyMFA(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, verify("000000").Code)
	assert.Len(t, f.events(t, audit.EventMFAFailed), 1)

	code, err := totp.GenerateCodeCustom(enrollment.Secret, f.clock.t, f.sec.MFA().ValidateOpts())
	require.NoError(t, err)
	ok := verify(code)
	require.Equal(t, http.StatusOK, ok.Code)

	sess, err := f.sec.Cookies().Decode(ok.Result().Cookies()[0].Value)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, sess.UserID)
	assert.Empty(t, sess.MFAPending)
	assert.Len(t, f.events(t, audit.EventMFAVerified), 1)
	assert.Len(t, f.events(t, audit.EventLoginSuccess), 1)
}

func TestHandler_VerifyMFAWithoutPendingSession(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.VerifyMFA(rec, httptest.NewRequest("POST", "/auth/mfa/verify", strings.NewReader(`{"code":"123456"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_AuditLogsValidatesQuery(t *testing.T) {
	f := newFixture(t)
	f.sec.LogSecurityEvent(context.Background(), audit.EventLogout, "seed", audit.SeverityInfo)

	tests := []struct {
		query      string
		wantStatus int
	}{
		{query: "", wantStatus: http.StatusOK},
		{query: "?days=7&severity=info", wantStatus: http.StatusOK},
		{query: "?days=0", wantStatus: http.StatusBadRequest},
		{query: "?days=abc", wantStatus: http.StatusBadRequest},
		{query: "?severity=loud", wantStatus: http.StatusBadRequest},
		{query: "?limit=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.handler.AuditLogs(rec, httptest.NewRequest("GET", "/admin/audit-logs"+tt.query, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	f.handler.AuditLogs(rec, httptest.NewRequest("GET", "/admin/audit-logs?days=1", nil))
	var body struct {
		Events []audit.Event `json:"events"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, audit.EventLogout, body.Events[0].EventType)
}

func TestLoginRateLimiter(t *testing.T) {
	limiter := auth.NewLoginRateLimiter(3)
	calls := 0
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = ip + ":4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("192.0.2.1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.1"))
	assert.Equal(t, http.StatusOK, send("192.0.2.2"))
	assert.Equal(t, 4, calls)
}

func TestLoginRateLimiter_StaysWithinCapacity(t *testing.T) {
	c := &clock{t: time.Date(2026, time.September, 7, 8, 30, 0, 0, time.UTC)}
	limiter := auth.NewLoginRateLimiter(1).WithCapacity(3).WithClock(c.now)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = ip + ":4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 1; i <= 50; i++ {
		c.t = c.t.Add(time.Second)
		assert.Equal(t, http.StatusOK, send(fmt.Sprintf("192.0.2.%d", i)))
		assert.LessOrEqual(t, limiter.Tracked(), 3)
	}

	// The most recent client keeps its bucket; the first one was evicted.
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.50"))
	assert.Equal(t, http.StatusOK, send("192.0.2.1"))
	assert.Equal(t, 3, limiter.Tracked())
}

func TestBearerSecret(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	send := func(secret, header string) int {
		req := httptest.NewRequest("POST", "/internal/maintenance/purge", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		auth.BearerSecret(secret, ok).ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNotFound, send("", "Bearer anything"))
	assert.Equal(t, http.StatusUnauthorized, send("s3cret", ""))
	assert.Equal(t, http.StatusUnauthorized, send("s3cret", "Bearer wrong"))
	assert.Equal(t, http.StatusOK, send("s3cret", "bearer s3cret"))
}
