package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"edu-platform/auth/internal/audit"
	"edu-platform/auth/internal/audit/domain"
)

const auditScope = "edu-platform/auth/audit"

// recordEmitter is the subset of otellog.Logger the audit emitter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewAuditEmitter returns an audit.Emitter that sends entries as OTel log records via
// the given LoggerProvider. If provider is nil, returns a no-op emitter.
func NewAuditEmitter(provider *sdklog.LoggerProvider) audit.Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &auditEmitter{logger: provider.Logger(auditScope)}
}

// NewAuditEmitterWithLogger returns an audit.Emitter writing to logger. Used in tests.
func NewAuditEmitterWithLogger(logger recordEmitter) audit.Emitter {
	return &auditEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.AuditLog) {}

type auditEmitter struct {
	logger recordEmitter
}

// Emit converts the audit entry to an OTel log record and emits it.
func (e *auditEmitter) Emit(ctx context.Context, entry *domain.AuditLog) {
	if entry == nil {
		return
	}
	rec := otellog.Record{}
	rec.SetTimestamp(entry.CreatedAt)
	if entry.CreatedAt.IsZero() {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(entry.Action)
	if entry.Metadata != "" {
		rec.SetBody(otellog.StringValue(entry.Metadata))
	}
	rec.AddAttributes(
		otellog.String("audit.id", entry.ID),
		otellog.String("action", entry.Action),
		otellog.String("resource", entry.Resource),
		otellog.String("ip", entry.IP),
	)
	if entry.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", entry.UserID))
	}
	if entry.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", entry.SessionID))
	}
	e.logger.Emit(ctx, rec)
}
