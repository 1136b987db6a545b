package mfa

import (
	"context"
	"database/sql"
	"errors"
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

func (r *Repository) Upsert(ctx context.Context, userID, secret string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_secrets (user_id, secret, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET
			secret = EXCLUDED.secret,
			created_at = EXCLUDED.created_at
	`, userID, secret, now.UTC())
	if err != nil {
		return fmt.Errorf("upsert mfa secret: %w", err)
	}

	return nil
}

func (r *Repository) Get(ctx context.Context, userID string) (string, bool, error) {
	var secret string
	err := r.db.GetContext(ctx, &secret, `
		SELECT secret
		FROM mfa_secrets
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query mfa secret: %w", err)
	}

	return secret, true, nil
}
