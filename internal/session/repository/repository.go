package repository

import (
	"context"
	"errors"
	"time"

	"edu-platform/auth/internal/session/domain"
)

// ErrTokenAlreadyRevoked is returned by Rotate when the presented token was revoked
// between lookup and rotation, typically by a concurrent refresh of the same token.
var ErrTokenAlreadyRevoked = errors.New("refresh token already revoked")

// ErrSessionInactive is returned by Rotate when the session was revoked or expired
// before the rotation could lock it.
var ErrSessionInactive = errors.New("session no longer active")

// Rotation describes one refresh-token rotation. The session must still be active at At.
// The old token is revoked with
// domain.ReasonTokenRotated, its usage is recorded, Next is inserted and the session's
// last-active time is bumped, all in one unit of work.
type Rotation struct {
	OldTokenID string
	SessionID  string
	Next       *domain.RefreshToken
	At         time.Time
}

// Repository defines persistence for sessions and refresh tokens. Every mutating
// method is atomic. Get methods return (nil, nil) when the row does not exist.
type Repository interface {
	CreateWithToken(ctx context.Context, s *domain.Session, t *domain.RefreshToken) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetTokenByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	Rotate(ctx context.Context, r Rotation) error
	TouchLastActive(ctx context.Context, id string, at time.Time) error
	// RevokeSession revokes the session (if not already revoked) and every live token of it.
	// It returns the number of tokens revoked.
	RevokeSession(ctx context.Context, id, reason string, at time.Time) (int64, error)
	// RevokeAllByUser revokes every non-revoked session and token owned by userID.
	RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) (sessions, tokens int64, err error)
	// ListActiveByUser returns unrevoked, unexpired sessions, most recently active first.
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	// DeleteExpired removes sessions and tokens whose expiry is before now. Tokens of a
	// deleted session go with it.
	DeleteExpired(ctx context.Context, now time.Time) (sessions, tokens int64, err error)
}
