package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-platform/auth/internal/audit/domain"
)

func TestPostgresRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(sqlx.NewDb(db, "sqlmock"))
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs("a1", "u1", nil, "login_success", "session", "192.0.2.1", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Create(context.Background(), &domain.AuditLog{
		ID: "a1", UserID: "u1", Action: "login_success", Resource: "session", IP: "192.0.2.1", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(sqlx.NewDb(db, "sqlmock"))
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM audit_logs WHERE user_id = \$1`).WithArgs("u1", 10).WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "session_id", "action", "resource", "ip", "metadata", "created_at"}).
			AddRow("a2", "u1", "s1", "logout", "session", "unknown", nil, now).
			AddRow("a1", "u1", nil, "login_success", "session", "192.0.2.1", `{"role":"ADMIN"}`, now.Add(-time.Minute)))

	list, err := repo.ListByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].SessionID)
	assert.Empty(t, list[1].SessionID)
	assert.Equal(t, `{"role":"ADMIN"}`, list[1].Metadata)
}
