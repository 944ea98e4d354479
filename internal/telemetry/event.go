// Package telemetry carries audit events out of the request path to external sinks.
package telemetry

import (
	"context"
	"time"

	auditdomain "edu-platform/auth/internal/audit/domain"
)

// AuditEvent is the wire form of an audit entry published to the event bus.
type AuditEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewAuditEvent converts an audit entry to its wire form.
func NewAuditEvent(e *auditdomain.AuditLog) AuditEvent {
	return AuditEvent{
		ID:        e.ID,
		UserID:    e.UserID,
		SessionID: e.SessionID,
		Action:    e.Action,
		Resource:  e.Resource,
		IP:        e.IP,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}

// Publisher sends audit events to a bus such as Kafka.
type Publisher interface {
	Publish(ctx context.Context, event AuditEvent) error
}
