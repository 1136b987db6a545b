package csrf

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, token, userID string, createdAt, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO csrf_tokens (token, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, token, userID, createdAt.UTC(), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert csrf token: %w", err)
	}

	return nil
}

// Consume deletes the token when it belongs to userID and is still live.
// Exactly one concurrent caller can observe true for a given token.
func (r *Repository) Consume(ctx context.Context, token, userID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM csrf_tokens
		WHERE token = $1 AND user_id = $2 AND expires_at > $3
	`, token, userID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("consume csrf token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume csrf token rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM csrf_tokens
		WHERE token IN (
			SELECT token
			FROM csrf_tokens
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired csrf tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired csrf tokens rows affected: %w", err)
	}

	return affected, nil
}
