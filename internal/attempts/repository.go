package attempts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, identity, ip string, at time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO failed_attempts (id, identity, attempted_at, ip_address)
		VALUES ($1, $2, $3, $4)
	`, id.String(), identity, at.UTC(), ip)
	if err != nil {
		return fmt.Errorf("insert failed attempt: %w", err)
	}

	return nil
}

// Reserve records a failure for identity ahead of the credential check, unless
// maxFailures already fall after since. The per-identity lock row is upserted
// first so concurrent reservations for one identity run one at a time.
func (r *Repository) Reserve(ctx context.Context, identity, ip string, at, since time.Time, maxFailures int) (int, bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return 0, false, fmt.Errorf("generate uuid v7: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin reserve attempt tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO login_locks (identity, touched_at)
		VALUES ($1, $2)
		ON CONFLICT (identity)
		DO UPDATE SET touched_at = EXCLUDED.touched_at
	`, identity, at.UTC())
	if err != nil {
		return 0, false, fmt.Errorf("lock identity row: %w", err)
	}

	var count int
	err = tx.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM failed_attempts
		WHERE identity = $1 AND attempted_at > $2
	`, identity, since.UTC())
	if err != nil {
		return 0, false, fmt.Errorf("count failed attempts: %w", err)
	}
	if count >= maxFailures {
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit reserve attempt tx: %w", err)
		}
		return count, false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO failed_attempts (id, identity, attempted_at, ip_address)
		VALUES ($1, $2, $3, $4)
	`, id.String(), identity, at.UTC(), ip)
	if err != nil {
		return 0, false, fmt.Errorf("insert reserved attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit reserve attempt tx: %w", err)
	}

	return count + 1, true, nil
}

func (r *Repository) CountSince(ctx context.Context, identity string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM failed_attempts
		WHERE identity = $1 AND attempted_at > $2
	`, identity, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}

	return count, nil
}

// OldestSince returns the earliest failure still inside the window, if any.
func (r *Repository) OldestSince(ctx context.Context, identity string, since time.Time) (time.Time, bool, error) {
	var oldest []time.Time
	err := r.db.SelectContext(ctx, &oldest, `
		SELECT attempted_at
		FROM failed_attempts
		WHERE identity = $1 AND attempted_at > $2
		ORDER BY attempted_at ASC
		LIMIT 1
	`, identity, since.UTC())
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query oldest failed attempt: %w", err)
	}
	if len(oldest) == 0 {
		return time.Time{}, false, nil
	}

	return oldest[0].UTC(), true, nil
}

func (r *Repository) DeleteIdentity(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM failed_attempts
		WHERE identity = $1
	`, identity)
	if err != nil {
		return fmt.Errorf("clear failed attempts: %w", err)
	}

	return nil
}

func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM failed_attempts
		WHERE id IN (
			SELECT id
			FROM failed_attempts
			WHERE attempted_at < $1
			ORDER BY attempted_at ASC
			LIMIT $2
		)
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale failed attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale failed attempts rows affected: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM login_locks
		WHERE touched_at < $1
	`, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("delete stale login locks: %w", err)
	}

	return affected, nil
}
