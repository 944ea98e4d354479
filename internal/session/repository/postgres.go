package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"edu-platform/auth/internal/session/domain"
)

const sessionColumns = `id, user_id, fingerprint, device_id, device_name, ip_address, user_agent,
	created_at, last_active_at, expires_at, revoked_at, revoked_reason`

const tokenColumns = `id, token_hash, user_id, session_id, created_at, expires_at, last_used_at,
	usage_count, revoked, revoked_at, revoked_reason, device_id, ip_address, user_agent`

// PostgresRepository persists sessions and refresh tokens in Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type sessionRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	Fingerprint   string         `db:"fingerprint"`
	DeviceID      sql.NullString `db:"device_id"`
	DeviceName    sql.NullString `db:"device_name"`
	IPAddress     string         `db:"ip_address"`
	UserAgent     string         `db:"user_agent"`
	CreatedAt     time.Time      `db:"created_at"`
	LastActiveAt  time.Time      `db:"last_active_at"`
	ExpiresAt     time.Time      `db:"expires_at"`
	RevokedAt     sql.NullTime   `db:"revoked_at"`
	RevokedReason sql.NullString `db:"revoked_reason"`
}

type tokenRow struct {
	ID            string         `db:"id"`
	TokenHash     string         `db:"token_hash"`
	UserID        string         `db:"user_id"`
	SessionID     string         `db:"session_id"`
	CreatedAt     time.Time      `db:"created_at"`
	ExpiresAt     time.Time      `db:"expires_at"`
	LastUsedAt    sql.NullTime   `db:"last_used_at"`
	UsageCount    int            `db:"usage_count"`
	Revoked       bool           `db:"revoked"`
	RevokedAt     sql.NullTime   `db:"revoked_at"`
	RevokedReason sql.NullString `db:"revoked_reason"`
	DeviceID      sql.NullString `db:"device_id"`
	IPAddress     sql.NullString `db:"ip_address"`
	UserAgent     sql.NullString `db:"user_agent"`
}

// CreateWithToken inserts the session and its first refresh token in one transaction.
func (r *PostgresRepository) CreateWithToken(ctx context.Context, s *domain.Session, t *domain.RefreshToken) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			s.ID, s.UserID, s.Fingerprint, nullString(s.DeviceID), nullString(s.DeviceName),
			s.IPAddress, s.UserAgent, s.CreatedAt, s.LastActiveAt, s.ExpiresAt,
			nullTime(s.RevokedAt), nullString(s.RevokedReason))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return insertToken(ctx, tx, t)
	})
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// GetTokenByHash returns the refresh token with the given hash, or nil if not found.
func (r *PostgresRepository) GetTokenByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var row tokenRow
	err := r.db.GetContext(ctx, &row, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// Rotate locks the session row, then revokes the old token only if it is still unrevoked,
// inserts the successor and bumps the session. Locks are taken session first, token
// second, the same order as RevokeSession and RevokeAllByUser. A session revoked or
// expired meanwhile yields ErrSessionInactive; a concurrent rotation of the same token
// loses the conditional update and gets ErrTokenAlreadyRevoked.
func (r *PostgresRepository) Rotate(ctx context.Context, rot Rotation) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var sessionID string
		err := tx.GetContext(ctx, &sessionID, `SELECT id FROM sessions
			WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2 FOR UPDATE`, rot.SessionID, rot.At)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionInactive
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE refresh_tokens
			SET revoked = true, revoked_at = $2, revoked_reason = $3, last_used_at = $2, usage_count = usage_count + 1
			WHERE id = $1 AND revoked = false`,
			rot.OldTokenID, rot.At, domain.ReasonTokenRotated)
		if err != nil {
			return fmt.Errorf("revoke rotated token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTokenAlreadyRevoked
		}
		if err := insertToken(ctx, tx, rot.Next); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_active_at = $2 WHERE id = $1`, rot.SessionID, rot.At); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
}

// TouchLastActive sets the session's last-active timestamp.
func (r *PostgresRepository) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_active_at = $2 WHERE id = $1`, id, at)
	return err
}

// RevokeSession revokes the session and cascades to its live refresh tokens.
func (r *PostgresRepository) RevokeSession(ctx context.Context, id, reason string, at time.Time) (int64, error) {
	var tokens int64
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = $2, revoked_reason = $3
			WHERE id = $1 AND revoked_at IS NULL`, id, at, reason); err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = true, revoked_at = $2, revoked_reason = $3
			WHERE session_id = $1 AND revoked = false`, id, at, reason)
		if err != nil {
			return fmt.Errorf("revoke session tokens: %w", err)
		}
		tokens, err = res.RowsAffected()
		return err
	})
	return tokens, err
}

// RevokeAllByUser revokes every non-revoked session and refresh token owned by userID.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) (int64, int64, error) {
	var sessions, tokens int64
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = $2, revoked_reason = $3
			WHERE user_id = $1 AND revoked_at IS NULL`, userID, at, reason)
		if err != nil {
			return fmt.Errorf("revoke user sessions: %w", err)
		}
		if sessions, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = true, revoked_at = $2, revoked_reason = $3
			WHERE user_id = $1 AND revoked = false`, userID, at, reason)
		if err != nil {
			return fmt.Errorf("revoke user tokens: %w", err)
		}
		tokens, err = res.RowsAffected()
		return err
	})
	return sessions, tokens, err
}

// ListActiveByUser returns the user's active sessions ordered by last activity, newest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_active_at DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// DeleteExpired deletes expired refresh tokens, tokens of expired sessions, and expired sessions.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	var sessions, tokens int64
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens
			WHERE expires_at < $1 OR session_id IN (SELECT id FROM sessions WHERE expires_at < $1)`, now)
		if err != nil {
			return fmt.Errorf("delete expired tokens: %w", err)
		}
		if tokens, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
		if err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		sessions, err = res.RowsAffected()
		return err
	})
	return sessions, tokens, err
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertToken(ctx context.Context, exec sqlx.ExecerContext, t *domain.RefreshToken) error {
	_, err := exec.ExecContext(ctx, `INSERT INTO refresh_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.TokenHash, t.UserID, t.SessionID, t.CreatedAt, t.ExpiresAt, nullTime(t.LastUsedAt),
		t.UsageCount, t.Revoked, nullTime(t.RevokedAt), nullString(t.RevokedReason),
		nullString(t.DeviceID), nullString(t.IPAddress), nullString(t.UserAgent))
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (row *sessionRow) toDomain() *domain.Session {
	return &domain.Session{
		ID:            row.ID,
		UserID:        row.UserID,
		Fingerprint:   row.Fingerprint,
		DeviceID:      row.DeviceID.String,
		DeviceName:    row.DeviceName.String,
		IPAddress:     row.IPAddress,
		UserAgent:     row.UserAgent,
		CreatedAt:     row.CreatedAt,
		LastActiveAt:  row.LastActiveAt,
		ExpiresAt:     row.ExpiresAt,
		RevokedAt:     nullTimeToPtr(row.RevokedAt),
		RevokedReason: row.RevokedReason.String,
	}
}

func (row *tokenRow) toDomain() *domain.RefreshToken {
	return &domain.RefreshToken{
		ID:            row.ID,
		TokenHash:     row.TokenHash,
		UserID:        row.UserID,
		SessionID:     row.SessionID,
		CreatedAt:     row.CreatedAt,
		ExpiresAt:     row.ExpiresAt,
		LastUsedAt:    nullTimeToPtr(row.LastUsedAt),
		UsageCount:    row.UsageCount,
		Revoked:       row.Revoked,
		RevokedAt:     nullTimeToPtr(row.RevokedAt),
		RevokedReason: row.RevokedReason.String,
		DeviceID:      row.DeviceID.String,
		IPAddress:     row.IPAddress.String,
		UserAgent:     row.UserAgent.String,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
