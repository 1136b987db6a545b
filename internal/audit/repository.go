package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

type ListQuery struct {
	Since    time.Time
	UserID   string
	Severity Severity
	Limit    int
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, event Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, timestamp, event_type, user_id, ip_address, user_agent, details, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.Timestamp.UTC(), string(event.EventType), event.UserID, event.IPAddress, event.UserAgent, event.Details, string(event.Severity))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

func (r *Repository) List(ctx context.Context, query ListQuery) ([]Event, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, timestamp, event_type, user_id, ip_address, user_agent, details, severity
		FROM audit_logs
		WHERE timestamp > $1`)
	args := []any{query.Since.UTC()}

	if query.UserID != "" {
		args = append(args, query.UserID)
		fmt.Fprintf(&sb, " AND user_id = $%d", len(args))
	}
	if query.Severity != "" {
		args = append(args, string(query.Severity))
		fmt.Fprintf(&sb, " AND severity = $%d", len(args))
	}

	sb.WriteString(" ORDER BY timestamp DESC, id DESC")

	if query.Limit > 0 {
		args = append(args, query.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	events := make([]Event, 0)
	if err := r.db.SelectContext(ctx, &events, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	for i := range events {
		events[i].Timestamp = events[i].Timestamp.UTC()
	}

	return events, nil
}

// PruneBefore removes at most batchSize events older than cutoff and reports how many went.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM audit_logs
		WHERE id IN (
			SELECT id
			FROM audit_logs
			WHERE timestamp < $1
			ORDER BY timestamp ASC
			LIMIT $2
		)
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired audit events rows affected: %w", err)
	}

	return affected, nil
}
