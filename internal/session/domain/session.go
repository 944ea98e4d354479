package domain

import "time"

// Revocation reasons written by the session manager.
const (
	ReasonTokenRotated   = "Token rotated"
	ReasonLoggedOut      = "Logged out"
	ReasonLogoutAll      = "Logged out from all devices"
	ReasonSessionRevoked = "Session revoked"
)

// Session represents one authenticated device or browser context.
type Session struct {
	ID            string
	UserID        string
	Fingerprint   string
	DeviceID      string
	DeviceName    string
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
	LastActiveAt  time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time // nil when not revoked
	RevokedReason string
}

// IsRevoked reports whether the session has been revoked. Revocation is terminal.
func (s *Session) IsRevoked() bool { return s.RevokedAt != nil }

// IsExpired reports whether now is at or past the session expiry.
func (s *Session) IsExpired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// IsActive reports whether the session is neither revoked nor expired at now.
func (s *Session) IsActive(now time.Time) bool { return !s.IsRevoked() && !s.IsExpired(now) }

// RefreshToken is the stored side of an opaque refresh token. Only the hash of the
// token value is kept.
type RefreshToken struct {
	ID            string
	TokenHash     string
	UserID        string
	SessionID     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	LastUsedAt    *time.Time
	UsageCount    int
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason string
	DeviceID      string
	IPAddress     string
	UserAgent     string
}

// IsExpired reports whether now is at or past the token expiry.
func (t *RefreshToken) IsExpired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// IsLive reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsLive(now time.Time) bool { return !t.Revoked && !t.IsExpired(now) }
