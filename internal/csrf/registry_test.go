package csrf_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/csrf"
	"hipaa-training/internal/db/dbtest"
)

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAuditor) Log(_ context.Context, entry audit.Entry) audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return audit.Event{EventType: entry.EventType}
}

func (a *recordingAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRegistry(t *testing.T) (*csrf.Registry, *csrf.Repository, *recordingAuditor, *clock) {
	t.Helper()
	repo := csrf.NewRepository(dbtest.Open(t))
	auditor := &recordingAuditor{}
	c := &clock{t: time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)}
	registry := csrf.NewRegistry(repo, auditor).WithTTL(3600 * time.Second).WithClock(c.now)
	return registry, repo, auditor, c
}

func TestRegistry_TokenIsSingleUse(t *testing.T) {
	registry, _, auditor, _ := newRegistry(t)
	ctx := context.Background()

	token, err := registry.Issue(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, token, 86)

	assert.True(t, registry.Validate(ctx, token, "user-1"))
	assert.False(t, registry.Validate(ctx, token, "user-1"))

	require.Equal(t, 1, auditor.count())
	assert.Equal(t, audit.EventCSRFValidationFailed, auditor.entries[0].EventType)
	assert.Equal(t, audit.SeverityWarning, auditor.entries[0].Severity)
}

func TestRegistry_TokenBoundToOwner(t *testing.T) {
	registry, _, _, _ := newRegistry(t)
	ctx := context.Background()

	token, err := registry.Issue(ctx, "alice")
	require.NoError(t, err)

	assert.False(t, registry.Validate(ctx, token, "bob"))
	assert.True(t, registry.Validate(ctx, token, "alice"), "a foreign attempt must not burn the token")
}

func TestRegistry_ExpiryBoundary(t *testing.T) {
	registry, _, _, c := newRegistry(t)
	ctx := context.Background()
	issuedAt := c.t

	early, err := registry.Issue(ctx, "user-1")
	require.NoError(t, err)
	late, err := registry.Issue(ctx, "user-1")
	require.NoError(t, err)

	c.t = issuedAt.Add(3599 * time.Second)
	assert.True(t, registry.Validate(ctx, early, "user-1"))

	c.t = issuedAt.Add(3601 * time.Second)
	assert.False(t, registry.Validate(ctx, late, "user-1"))
}

func TestRegistry_RejectsEmptyInputs(t *testing.T) {
	registry, _, auditor, _ := newRegistry(t)
	ctx := context.Background()

	assert.False(t, registry.Validate(ctx, "", "user-1"))
	assert.False(t, registry.Validate(ctx, "abc", ""))
	assert.Equal(t, 2, auditor.count())

	_, err := registry.Issue(ctx, "")
	assert.ErrorIs(t, err, csrf.ErrTokenGeneration)
}

func TestRegistry_RejectionDetailNamesPath(t *testing.T) {
	registry, _, auditor, _ := newRegistry(t)

	req := httptest.NewRequest("POST", "/api/checklist/4", nil)
	ctx := audit.ContextWithRequest(context.Background(), audit.RequestInfoFrom(req))

	assert.False(t, registry.Validate(ctx, "forged", "user-1"))
	require.Equal(t, 1, auditor.count())
	assert.Contains(t, auditor.entries[0].Details, "POST /api/checklist/4")
}

func TestRegistry_ConcurrentValidationSucceedsOnce(t *testing.T) {
	registry, _, _, _ := newRegistry(t)
	ctx := context.Background()

	token, err := registry.Issue(ctx, "user-1")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if registry.Validate(ctx, token, "user-1") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRegistry_SweepsExpiredTokensOpportunistically(t *testing.T) {
	registry, repo, _, c := newRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := registry.Issue(ctx, "user-1")
		require.NoError(t, err)
	}

	c.t = c.t.Add(2 * time.Hour)
	registry.Validate(ctx, "whatever", "user-1")

	remaining, err := repo.PruneBefore(ctx, c.t, 100)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

type failingStore struct{}

func (failingStore) Insert(context.Context, string, string, time.Time, time.Time) error {
	return errors.New("database is locked")
}

func (failingStore) Consume(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("database is locked")
}

func (failingStore) PruneBefore(context.Context, time.Time, int) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestRegistry_StoreFailures(t *testing.T) {
	auditor := &recordingAuditor{}
	registry := csrf.NewRegistry(failingStore{}, auditor)

	_, err := registry.Issue(context.Background(), "user-1")
	assert.ErrorIs(t, err, csrf.ErrTokenGeneration)

	assert.False(t, registry.Validate(context.Background(), "token", "user-1"))
	assert.Equal(t, 1, auditor.count())
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set(csrf.HeaderName, " header-token ")
	assert.Equal(t, "header-token", csrf.TokenFromRequest(req))

	form := url.Values{csrf.FormField: {"form-token"}}
	req = httptest.NewRequest("POST", "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, "form-token", csrf.TokenFromRequest(req))
}

func TestRegistry_SweepExpired(t *testing.T) {
	registry, _, _, c := newRegistry(t)
	ctx := context.Background()

	_, err := registry.Issue(ctx, "user-1")
	require.NoError(t, err)
	c.t = c.t.Add(30 * time.Minute)
	live, err := registry.Issue(ctx, "user-1")
	require.NoError(t, err)

	c.t = c.t.Add(45 * time.Minute)
	swept, err := registry.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
	assert.True(t, registry.Validate(ctx, live, "user-1"))
}
