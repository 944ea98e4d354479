package repository

import (
	"context"

	"edu-platform/auth/internal/user/domain"
)

// Repository is the read-only view of user records the auth core needs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmailOrPhone resolves a login identifier. Emails compare case-insensitively.
	GetByEmailOrPhone(ctx context.Context, identifier string) (*domain.User, error)
}
