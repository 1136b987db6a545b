package maintenance_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/maintenance"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpired(context.Context) (audit.PurgeResult, error) {
	p.calls.Add(1)
	return audit.PurgeResult{DeletedAuditEvents: 2, DeletedCSRFTokens: 1}, p.err
}

func TestCleanupHandler(t *testing.T) {
	purger := &countingPurger{}
	h := maintenance.NewCleanupHandler(purger, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest("POST", "/internal/maintenance/purge", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","result":{"deleted_audit_events":2,"deleted_failed_attempts":0,"deleted_csrf_tokens":1}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest("DELETE", "/internal/maintenance/purge", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, int32(1), purger.calls.Load())
}

func TestCleanupHandler_Failure(t *testing.T) {
	h := maintenance.NewCleanupHandler(&countingPurger{err: errors.New("db down")}, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest("GET", "/internal/maintenance/purge", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	purger := &countingPurger{}
	scheduler := maintenance.NewScheduler(purger, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	require.Eventually(t, func() bool { return purger.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_KeepsRunningAfterErrors(t *testing.T) {
	purger := &countingPurger{err: errors.New("locked")}
	scheduler := maintenance.NewScheduler(purger, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = scheduler.Run(ctx) }()

	require.Eventually(t, func() bool { return purger.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}
