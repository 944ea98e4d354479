package repository

import (
	"context"
	"time"

	"edu-platform/auth/internal/otp/domain"
)

// DefaultChallengeTTL is the default code expiry.
const DefaultChallengeTTL = 10 * time.Minute

// Store keeps at most one pending challenge per target, its failed-attempt counter,
// and a resend cooldown marker.
type Store interface {
	// Save replaces any pending challenge for c.Target, resets its attempts, and starts a
	// cooldown window when cooldown > 0. The challenge disappears after ttl.
	Save(ctx context.Context, c *domain.Challenge, ttl, cooldown time.Duration) error
	// Get returns the pending challenge for target, or nil if none or expired.
	Get(ctx context.Context, target string) (*domain.Challenge, error)
	// Delete removes the challenge and its attempt counter. The cooldown is kept.
	Delete(ctx context.Context, target string) error
	// InCooldown reports whether a new code for target must wait, and for how long.
	InCooldown(ctx context.Context, target string) (bool, time.Duration, error)
	// Consume removes the pending challenge for target only if its code hash equals
	// codeHash. It reports true for exactly one caller per issued challenge.
	Consume(ctx context.Context, target, codeHash string) (bool, error)
	// IncrementAttempts records one verification attempt and returns the new count.
	IncrementAttempts(ctx context.Context, target string) (int, error)
}
