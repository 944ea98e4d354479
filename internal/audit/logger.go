package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"edu-platform/auth/internal/audit/domain"
	auditrepo "edu-platform/auth/internal/audit/repository"
)

// Audit actions emitted by the auth core.
const (
	ActionLoginSuccess      = "login_success"
	ActionLoginFailure      = "login_failure"
	ActionSessionCreated    = "session_created"
	ActionTokenRefreshed    = "token_refreshed"
	ActionRefreshTokenReuse = "refresh_token_reuse"
	ActionLogout            = "logout"
	ActionLogoutAll         = "logout_all"
	ActionOTPSent           = "otp_sent"
	ActionOTPVerified       = "otp_verified"
)

// Audit resources.
const (
	ResourceSession = "session"
	ResourceOTP     = "otp"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Emitter forwards audit entries to an external sink such as an OTel log pipeline.
type Emitter interface {
	Emit(ctx context.Context, entry *domain.AuditLog)
}

// Emitters fans one entry out to several sinks. Nil members are skipped.
type Emitters []Emitter

func (es Emitters) Emit(ctx context.Context, entry *domain.AuditLog) {
	for _, e := range es {
		if e != nil {
			e.Emit(ctx, entry)
		}
	}
}

// AuditLogger writes a single audit event. Used by auth and session code paths.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, sessionID, action, resource, metadata string)
}

// Logger implements AuditLogger. Every entry goes to slog; the repository and the
// emitter are optional.
type Logger struct {
	repo        auditrepo.Repository
	emitter     Emitter
	ipExtractor IPExtractor
	logger      *slog.Logger
}

// NewLogger returns a Logger. repo and emitter may be nil. ipExtractor may be nil; then
// the IP stored by WithClientIP is used, or "unknown".
func NewLogger(repo auditrepo.Repository, emitter Emitter, ipExtractor IPExtractor, logger *slog.Logger) *Logger {
	if ipExtractor == nil {
		ipExtractor = ClientIP
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{repo: repo, emitter: emitter, ipExtractor: ipExtractor, logger: logger}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, sessionID, action, resource, metadata string) {
	ip := l.ipExtractor(ctx)
	if ip == "" {
		ip = "unknown"
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.String("ip", ip),
	)
	if l.emitter != nil {
		l.emitter.Emit(ctx, entry)
	}
	if l.repo != nil {
		if err := l.repo.Create(ctx, entry); err != nil {
			l.logger.Error("audit: failed to persist event", "action", action, "resource", resource, "error", err)
		}
	}
}

// Nop is an AuditLogger that drops every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string, string, string) {}

type clientIPKey struct{}

// WithClientIP returns a context carrying the caller's IP for audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the IP stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
