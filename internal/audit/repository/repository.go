package repository

import (
	"context"

	"edu-platform/auth/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error)
}
