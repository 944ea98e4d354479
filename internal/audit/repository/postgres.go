package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"edu-platform/auth/internal/audit/domain"
)

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type auditRow struct {
	ID        string         `db:"id"`
	UserID    sql.NullString `db:"user_id"`
	SessionID sql.NullString `db:"session_id"`
	Action    string         `db:"action"`
	Resource  string         `db:"resource"`
	IP        string         `db:"ip"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

// Create persists the audit log entry. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_logs (id, user_id, session_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, nullString(a.UserID), nullString(a.SessionID), a.Action, a.Resource, a.IP, nullString(a.Metadata), a.CreatedAt)
	return err
}

// ListByUser returns the most recent audit logs of userID, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	var rows []auditRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, user_id, session_id, action, resource, ip, metadata, created_at
		FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AuditLog, len(rows))
	for i, row := range rows {
		out[i] = &domain.AuditLog{
			ID:        row.ID,
			UserID:    row.UserID.String,
			SessionID: row.SessionID.String,
			Action:    row.Action,
			Resource:  row.Resource,
			IP:        row.IP,
			Metadata:  row.Metadata.String,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
