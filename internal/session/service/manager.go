package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"edu-platform/auth/internal/audit"
	"edu-platform/auth/internal/platform/apperr"
	"edu-platform/auth/internal/security"
	"edu-platform/auth/internal/session/domain"
	sessionrepo "edu-platform/auth/internal/session/repository"
	"edu-platform/auth/internal/telemetry/metrics"
	userdomain "edu-platform/auth/internal/user/domain"
)

// Unauthorized reasons surfaced by the manager.
const (
	ReasonInvalidRefreshToken = "Invalid refresh token"
	ReasonRefreshTokenRevoked = "Refresh token has been revoked"
	ReasonRefreshTokenExpired = "Refresh token has expired"
	ReasonSessionRevoked      = "Session has been revoked"
	ReasonSessionExpired      = "Session has expired"
	ReasonUserNotFound        = "User no longer exists"

	ReasonValidateNotFound = "Session not found"
	ReasonValidateExpired  = "Session expired"
)

const (
	flowLogin   = "login"
	flowRefresh = "refresh"
)

// UserLookup resolves the current identity of a session owner.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Config holds session and refresh-token lifetimes.
type Config struct {
	SessionTTL time.Duration
	RefreshTTL time.Duration
}

// DefaultConfig returns 30-day session and refresh-token windows.
func DefaultConfig() Config {
	return Config{SessionTTL: 30 * 24 * time.Hour, RefreshTTL: 30 * 24 * time.Hour}
}

// TokenPair is what a login or refresh hands back to the caller.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionValidation is the result of ValidateSession.
type SessionValidation struct {
	Valid  bool
	UserID string
	Reason string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the manager's clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records token issuance and cleanup counters.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithAuditLogger records session audit events.
func WithAuditLogger(a audit.AuditLogger) Option {
	return func(m *Manager) { m.audit = a }
}

// Manager owns the session and refresh-token lifecycle and access-token issuance.
type Manager struct {
	repo    sessionrepo.Repository
	users   UserLookup
	tokens  *security.TokenProvider
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.AuditLogger
	now     func() time.Time
}

// NewManager returns a Manager. users is consulted on every refresh so the new access
// token carries the owner's current email and role.
func NewManager(repo sessionrepo.Repository, users UserLookup, tokens *security.TokenProvider, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = def.RefreshTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		repo:   repo,
		users:  users,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
		audit:  audit.Nop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTokenPair opens a new session for id and returns its first access and refresh tokens.
// device may be nil.
func (m *Manager) CreateTokenPair(ctx context.Context, id userdomain.Identity, device *security.DeviceInfo) (*TokenPair, error) {
	pair, err := m.createTokenPair(ctx, id, device)
	m.metrics.TokenIssued(flowLogin, err == nil)
	return pair, err
}

func (m *Manager) createTokenPair(ctx context.Context, id userdomain.Identity, device *security.DeviceInfo) (*TokenPair, error) {
	var info security.DeviceInfo
	if device != nil {
		info = device.Sanitized()
	}
	now := m.now().UTC()
	sess := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       id.UserID,
		Fingerprint:  security.Fingerprint(info),
		DeviceID:     info.DeviceID,
		DeviceName:   info.DeviceName,
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(m.cfg.SessionTTL),
	}

	access, accessExp, err := m.tokens.IssueAccess(accessSubject(id, sess.ID))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, stored, err := m.newRefreshToken(sess, info, now)
	if err != nil {
		return nil, err
	}
	if err := m.repo.CreateWithToken(ctx, sess, stored); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.logger.InfoContext(ctx, "session created", "user_id", id.UserID, "session_id", sess.ID)
	m.audit.LogEvent(ctx, id.UserID, sess.ID, audit.ActionSessionCreated, audit.ResourceSession, "")
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionID:        sess.ID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: stored.ExpiresAt,
	}, nil
}

// RefreshTokens exchanges a live refresh token for a new pair on the same session. The
// presented token is revoked with reason "Token rotated" in the same transaction that
// stores its successor. device may be nil.
func (m *Manager) RefreshTokens(ctx context.Context, refreshToken string, device *security.DeviceInfo) (*TokenPair, error) {
	pair, err := m.refreshTokens(ctx, refreshToken, device)
	m.metrics.TokenIssued(flowRefresh, err == nil)
	return pair, err
}

func (m *Manager) refreshTokens(ctx context.Context, refreshToken string, device *security.DeviceInfo) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, apperr.Unauthorized(ReasonInvalidRefreshToken)
	}
	stored, err := m.repo.GetTokenByHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if stored == nil {
		return nil, apperr.Unauthorized(ReasonInvalidRefreshToken)
	}
	if stored.Revoked {
		m.reportRevokedUse(ctx, stored)
		return nil, apperr.Unauthorized(ReasonRefreshTokenRevoked)
	}
	now := m.now().UTC()
	if stored.IsExpired(now) {
		return nil, apperr.Unauthorized(ReasonRefreshTokenExpired)
	}
	sess, err := m.repo.GetByID(ctx, stored.SessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil || sess.IsRevoked() {
		return nil, apperr.Unauthorized(ReasonSessionRevoked)
	}
	if sess.IsExpired(now) {
		return nil, apperr.Unauthorized(ReasonSessionExpired)
	}

	id, err := m.currentIdentity(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	var info security.DeviceInfo
	if device != nil {
		info = device.Sanitized()
	}
	access, accessExp, err := m.tokens.IssueAccess(accessSubject(id, sess.ID))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, next, err := m.newRefreshToken(sess, info, now)
	if err != nil {
		return nil, err
	}
	err = m.repo.Rotate(ctx, sessionrepo.Rotation{OldTokenID: stored.ID, SessionID: sess.ID, Next: next, At: now})
	if errors.Is(err, sessionrepo.ErrTokenAlreadyRevoked) {
		m.logger.WarnContext(ctx, "concurrent refresh lost rotation", "session_id", sess.ID, "token_id", stored.ID)
		return nil, apperr.Unauthorized(ReasonRefreshTokenRevoked)
	}
	if errors.Is(err, sessionrepo.ErrSessionInactive) {
		m.logger.WarnContext(ctx, "session ended during rotation", "session_id", sess.ID)
		return nil, apperr.Unauthorized(ReasonSessionRevoked)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	m.audit.LogEvent(ctx, sess.UserID, sess.ID, audit.ActionTokenRefreshed, audit.ResourceSession, "")
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionID:        sess.ID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// reportRevokedUse flags reuse of a token that was rotated away. The session is left as is.
func (m *Manager) reportRevokedUse(ctx context.Context, t *domain.RefreshToken) {
	if t.RevokedReason != domain.ReasonTokenRotated {
		return
	}
	m.logger.WarnContext(ctx, "rotated refresh token presented again", "user_id", t.UserID, "session_id", t.SessionID, "token_id", t.ID)
	m.audit.LogEvent(ctx, t.UserID, t.SessionID, audit.ActionRefreshTokenReuse, audit.ResourceSession,
		fmt.Sprintf(`{"token_id":%q}`, t.ID))
}

func (m *Manager) currentIdentity(ctx context.Context, userID string) (userdomain.Identity, error) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return userdomain.Identity{}, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return userdomain.Identity{}, apperr.Unauthorized(ReasonUserNotFound)
	}
	return u.Identity(), nil
}

// newRefreshToken mints an opaque token for sess. Its expiry never outlives the session.
func (m *Manager) newRefreshToken(sess *domain.Session, info security.DeviceInfo, now time.Time) (string, *domain.RefreshToken, error) {
	value, err := security.GenerateRefreshToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	expires := now.Add(m.cfg.RefreshTTL)
	if expires.After(sess.ExpiresAt) {
		expires = sess.ExpiresAt
	}
	return value, &domain.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: security.HashRefreshToken(value),
		UserID:    sess.UserID,
		SessionID: sess.ID,
		CreatedAt: now,
		ExpiresAt: expires,
		DeviceID:  info.DeviceID,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
	}, nil
}

// ValidateSession reports whether sessionID is active. A valid session has its
// last-active time bumped.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (SessionValidation, error) {
	sess, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return SessionValidation{}, fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil {
		return SessionValidation{Reason: ReasonValidateNotFound}, nil
	}
	if sess.IsRevoked() {
		reason := sess.RevokedReason
		if reason == "" {
			reason = ReasonSessionRevoked
		}
		return SessionValidation{UserID: sess.UserID, Reason: reason}, nil
	}
	now := m.now().UTC()
	if sess.IsExpired(now) {
		return SessionValidation{UserID: sess.UserID, Reason: ReasonValidateExpired}, nil
	}
	if err := m.repo.TouchLastActive(ctx, sess.ID, now); err != nil {
		return SessionValidation{}, fmt.Errorf("touch session: %w", err)
	}
	return SessionValidation{Valid: true, UserID: sess.UserID}, nil
}

// ValidateAccessToken returns the claims of a valid access token, or nil. It never fails
// loudly: every structural or claim problem yields nil.
func (m *Manager) ValidateAccessToken(_ context.Context, token string) *security.AccessClaims {
	claims, err := m.tokens.ValidateAccess(token)
	if err != nil {
		return nil
	}
	return claims
}

// InvalidateSession revokes the session and every refresh token attached to it.
// An empty reason is recorded as "Session revoked".
func (m *Manager) InvalidateSession(ctx context.Context, sessionID, reason string) error {
	if reason == "" {
		reason = domain.ReasonSessionRevoked
	}
	sess, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	tokens, err := m.repo.RevokeSession(ctx, sessionID, reason, m.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	var userID string
	if sess != nil {
		userID = sess.UserID
	}
	m.logger.InfoContext(ctx, "session invalidated", "session_id", sessionID, "tokens_revoked", tokens, "reason", reason)
	m.audit.LogEvent(ctx, userID, sessionID, audit.ActionLogout, audit.ResourceSession, "")
	return nil
}

// InvalidateAllUserSessions revokes every non-revoked session and refresh token of userID.
// It returns how many sessions and tokens were revoked.
func (m *Manager) InvalidateAllUserSessions(ctx context.Context, userID string) (sessions, tokens int64, err error) {
	sessions, tokens, err = m.repo.RevokeAllByUser(ctx, userID, domain.ReasonLogoutAll, m.now().UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	m.logger.InfoContext(ctx, "all user sessions invalidated", "user_id", userID, "sessions", sessions, "tokens", tokens)
	m.audit.LogEvent(ctx, userID, "", audit.ActionLogoutAll, audit.ResourceSession,
		fmt.Sprintf(`{"sessions":%d,"tokens":%d}`, sessions, tokens))
	return sessions, tokens, nil
}

// ListActiveSessions returns the user's active sessions, most recently active first.
func (m *Manager) ListActiveSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	list, err := m.repo.ListActiveByUser(ctx, userID, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return list, nil
}

// CleanupExpiredSessions permanently deletes sessions and refresh tokens past their expiry.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (sessions, tokens int64, err error) {
	sessions, tokens, err = m.repo.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("delete expired: %w", err)
	}
	m.metrics.Cleanup(sessions, tokens)
	return sessions, tokens, nil
}

func accessSubject(id userdomain.Identity, sessionID string) security.AccessSubject {
	return security.AccessSubject{
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      string(id.Role),
		SessionID: sessionID,
	}
}
