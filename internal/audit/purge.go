package audit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"hipaa-training/internal/observability"
)

// Pruner deletes up to batchSize rows older than cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type PurgeResult struct {
	DeletedAuditEvents    int64 `json:"deleted_audit_events"`
	DeletedFailedAttempts int64 `json:"deleted_failed_attempts"`
	DeletedCSRFTokens     int64 `json:"deleted_csrf_tokens"`
}

type Purger struct {
	events    Pruner
	attempts  Pruner
	tokens    Pruner
	retention time.Duration
	batchSize int
	now       func() time.Time
}

// NewPurger wires the retention sweep. Audit events and failed attempts are
// kept for retention; CSRF tokens go as soon as they expire.
func NewPurger(events, attempts, tokens Pruner, retention time.Duration, batchSize int) *Purger {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Purger{
		events:    events,
		attempts:  attempts,
		tokens:    tokens,
		retention: retention,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *Purger) WithClock(now func() time.Time) *Purger {
	p.now = now
	return p
}

func (p *Purger) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	if p.retention <= 0 {
		return PurgeResult{}, fmt.Errorf("purge: retention must be positive")
	}

	now := p.now().UTC()
	retentionCutoff := now.Add(-p.retention)

	var result PurgeResult
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		n, err := p.drain(ctx, p.events, retentionCutoff)
		result.DeletedAuditEvents = n
		return err
	})
	group.Go(func() error {
		n, err := p.drain(ctx, p.attempts, retentionCutoff)
		result.DeletedFailedAttempts = n
		return err
	})
	group.Go(func() error {
		n, err := p.drain(ctx, p.tokens, now)
		result.DeletedCSRFTokens = n
		return err
	})

	err := group.Wait()

	observability.PurgeDeletedTotal.WithLabelValues("audit_logs").Add(float64(result.DeletedAuditEvents))
	observability.PurgeDeletedTotal.WithLabelValues("failed_attempts").Add(float64(result.DeletedFailedAttempts))
	observability.PurgeDeletedTotal.WithLabelValues("csrf_tokens").Add(float64(result.DeletedCSRFTokens))

	if err != nil {
		return result, fmt.Errorf("purge expired records: %w", err)
	}
	return result, nil
}

func (p *Purger) drain(ctx context.Context, pruner Pruner, cutoff time.Time) (int64, error) {
	if pruner == nil {
		return 0, nil
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := pruner.PruneBefore(ctx, cutoff, p.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(p.batchSize) {
			return total, nil
		}
	}
}
