package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := r.db.GetContext(ctx, &user, `
		SELECT id, username, password_hash, role, facility, created_at, updated_at
		FROM users
		WHERE username = $1
	`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}

	return user, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	var user User
	err := r.db.GetContext(ctx, &user, `
		SELECT id, username, password_hash, role, facility, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}

	return user, nil
}

// UpsertUser creates username or resets its password, role and facility.
func (r *Repository) UpsertUser(ctx context.Context, username, plainPassword, role, facility string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.GetContext(ctx, &existingID, `SELECT id FROM users WHERE username = $1`, username)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id, err := uuid.NewV7()
		if err != nil {
			return User{}, fmt.Errorf("generate uuid v7: %w", err)
		}
		existingID = id.String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, username, password_hash, role, facility, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
		`, existingID, username, string(hash), role, facility, now); err != nil {
			return User{}, fmt.Errorf("insert user: %w", err)
		}
	case err != nil:
		return User{}, fmt.Errorf("select existing user: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET password_hash = $2, role = $3, facility = $4, updated_at = $5
			WHERE id = $1
		`, existingID, string(hash), role, facility, now); err != nil {
			return User{}, fmt.Errorf("update user: %w", err)
		}
	}

	var user User
	if err := tx.GetContext(ctx, &user, `
		SELECT id, username, password_hash, role, facility, created_at, updated_at
		FROM users
		WHERE id = $1
	`, existingID); err != nil {
		return User{}, fmt.Errorf("reload user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit transaction: %w", err)
	}

	return user, nil
}
