package service

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCleanupInterval is how often the Sweeper runs when no interval is configured.
const DefaultCleanupInterval = time.Hour

// Cleaner deletes expired sessions and tokens.
type Cleaner interface {
	CleanupExpiredSessions(ctx context.Context) (sessions, tokens int64, err error)
}

// Sweeper runs CleanupExpiredSessions on a fixed interval until its context is cancelled.
// A failed sweep is logged and retried on the next tick.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper returns a Sweeper. A non-positive interval uses DefaultCleanupInterval.
func NewSweeper(cleaner Cleaner, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cleaner: cleaner, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick. It returns when ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "session cleanup panicked", "panic", r)
		}
	}()
	sessions, tokens, err := s.cleaner.CleanupExpiredSessions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "session cleanup failed", "error", err)
		}
		return
	}
	if sessions > 0 || tokens > 0 {
		s.logger.InfoContext(ctx, "expired sessions cleaned up", "sessions", sessions, "refresh_tokens", tokens)
	}
}
