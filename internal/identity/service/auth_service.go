// Package service verifies login credentials and opens sessions for verified users.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"edu-platform/auth/internal/audit"
	"edu-platform/auth/internal/platform/apperr"
	"edu-platform/auth/internal/security"
	sessionservice "edu-platform/auth/internal/session/service"
	"edu-platform/auth/internal/telemetry/metrics"
	userdomain "edu-platform/auth/internal/user/domain"
)

// Internal login failure causes. They reach logs and audit, never the caller.
var (
	errUserNotFound    = errors.New("user not found")
	errPasswordInvalid = errors.New("password mismatch")
	errNoPassword      = errors.New("user has no password set")
	errRoleNotAllowed  = errors.New("role not allowed")
)

// UserRepo resolves a login identifier to a user record.
type UserRepo interface {
	GetByEmailOrPhone(ctx context.Context, identifier string) (*userdomain.User, error)
}

// TokenIssuer opens a session for a verified identity.
type TokenIssuer interface {
	CreateTokenPair(ctx context.Context, id userdomain.Identity, device *security.DeviceInfo) (*sessionservice.TokenPair, error)
}

// LoginResult is a verified identity and its first token pair.
type LoginResult struct {
	Identity userdomain.Identity
	Tokens   *sessionservice.TokenPair
}

// AuthService checks identifier/password pairs against stored bcrypt hashes.
type AuthService struct {
	users   UserRepo
	hasher  *security.Hasher
	tokens  TokenIssuer
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.AuditLogger
}

// Option customizes an AuthService.
type Option func(*AuthService)

// WithMetrics counts login outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = mt }
}

// WithAuditLogger records login_success and login_failure.
func WithAuditLogger(a audit.AuditLogger) Option {
	return func(s *AuthService) { s.audit = a }
}

// NewAuthService returns an AuthService. tokens may be nil when only Authenticate is used.
func NewAuthService(users UserRepo, hasher *security.Hasher, tokens TokenIssuer, logger *slog.Logger, opts ...Option) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AuthService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
		audit:  audit.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate verifies identifier (email or phone) and password. When allowedRoles is
// non-empty the user's role must be in it. Unknown identifier, wrong password and a
// disallowed role all fail with the same InvalidCredentials error.
func (s *AuthService) Authenticate(ctx context.Context, identifier, password string, allowedRoles userdomain.RoleSet) (*userdomain.Identity, error) {
	identifier = normalizeIdentifier(identifier)

	user, err := s.users.GetByEmailOrPhone(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		_ = s.hasher.DummyCompare([]byte(password))
		return nil, s.fail(ctx, "", errUserNotFound)
	}
	if user.PasswordHash == "" {
		_ = s.hasher.DummyCompare([]byte(password))
		return nil, s.fail(ctx, user.ID, errNoPassword)
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, s.fail(ctx, user.ID, errPasswordInvalid)
	}
	if !allowedRoles.Empty() && !allowedRoles.Contains(user.Role) {
		return nil, s.fail(ctx, user.ID, errRoleNotAllowed)
	}

	id := user.Identity()
	s.metrics.Login(true)
	s.audit.LogEvent(ctx, user.ID, "", audit.ActionLoginSuccess, audit.ResourceSession, fmt.Sprintf(`{"role":%q}`, user.Role))
	return &id, nil
}

// Login authenticates and then opens a session on device, which may be nil.
func (s *AuthService) Login(ctx context.Context, identifier, password string, allowedRoles userdomain.RoleSet, device *security.DeviceInfo) (*LoginResult, error) {
	id, err := s.Authenticate(ctx, identifier, password, allowedRoles)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.CreateTokenPair(ctx, *id, device)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Identity: *id, Tokens: pair}, nil
}

func (s *AuthService) fail(ctx context.Context, userID string, cause error) error {
	s.metrics.Login(false)
	s.logger.InfoContext(ctx, "login rejected", "user_id", userID, "cause", cause.Error())
	s.audit.LogEvent(ctx, userID, "", audit.ActionLoginFailure, audit.ResourceSession, fmt.Sprintf(`{"cause":%q}`, cause.Error()))
	return apperr.InvalidCredentials(cause)
}

// normalizeIdentifier trims whitespace and lowercases email addresses. Phone numbers
// are left as entered.
func normalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		identifier = strings.ToLower(identifier)
	}
	return identifier
}
