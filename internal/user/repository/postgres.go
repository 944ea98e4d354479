package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"edu-platform/auth/internal/user/domain"
)

const userColumns = `id, email, phone, role, password_hash`

type userRow struct {
	ID           string         `db:"id"`
	Email        sql.NullString `db:"email"`
	Phone        sql.NullString `db:"phone"`
	Role         string         `db:"role"`
	PasswordHash string         `db:"password_hash"`
}

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a user repository reading from the users table.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return rowToDomain(&row, err)
}

// GetByEmailOrPhone returns the user whose email (case-insensitive) or phone equals identifier, or nil if none.
func (r *PostgresRepository) GetByEmailOrPhone(ctx context.Context, identifier string) (*domain.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) OR phone = $1 LIMIT 1`, identifier)
	return rowToDomain(&row, err)
}

func rowToDomain(row *userRow, err error) (*domain.User, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	role, err := domain.ParseRole(row.Role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", row.ID, err)
	}
	return &domain.User{
		ID:           row.ID,
		Email:        row.Email.String,
		Phone:        row.Phone.String,
		Role:         role,
		PasswordHash: row.PasswordHash,
	}, nil
}

// CreateIfAbsent inserts u unless a row with the same id already exists. It reports
// whether a row was written.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, u *domain.User) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		u.ID, nullString(u.Email), nullString(u.Phone), string(u.Role), u.PasswordHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
