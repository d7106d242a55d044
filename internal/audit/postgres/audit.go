package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/fleet-portal/internal/audit"
)

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) audit.RepositoryAPI {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, e *audit.Event) error {
	query := `INSERT INTO auth_events (id, event_type, user_id, username, reason, path, occurred_at)
	          VALUES (:id, :event_type, :user_id, :username, :reason, :path, :occurred_at)`
	_, err := r.db.NamedExecContext(ctx, query, e)
	return err
}

// ListRecent returns the newest events first. An empty userID lists all users.
func (r *AuditRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows []*audit.Event
		err  error
	)
	if userID == "" {
		query := r.db.Rebind(`SELECT id, event_type, user_id, username, reason, path, occurred_at
		                      FROM auth_events ORDER BY occurred_at DESC LIMIT ?`)
		err = r.db.SelectContext(ctx, &rows, query, limit)
	} else {
		query := r.db.Rebind(`SELECT id, event_type, user_id, username, reason, path, occurred_at
		                      FROM auth_events WHERE user_id = ? ORDER BY occurred_at DESC LIMIT ?`)
		err = r.db.SelectContext(ctx, &rows, query, userID, limit)
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}
