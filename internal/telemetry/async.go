package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	auditdomain "edu-platform/auth/internal/audit/domain"
)

// emitTimeout bounds a single background publish.
const emitTimeout = 5 * time.Second

// AsyncEmitter publishes audit entries in the background so a slow bus never
// blocks a login or refresh. It satisfies audit.Emitter.
type AsyncEmitter struct {
	pub     Publisher
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncEmitter wraps pub. A nil logger uses slog.Default.
func NewAsyncEmitter(pub Publisher, logger *slog.Logger) *AsyncEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncEmitter{pub: pub, logger: logger, timeout: emitTimeout}
}

// Emit publishes entry on a new goroutine. The request context is not used for the
// publish so cancellation of the request does not abort it.
func (a *AsyncEmitter) Emit(_ context.Context, entry *auditdomain.AuditLog) {
	if a == nil || a.pub == nil || entry == nil {
		return
	}
	event := NewAuditEvent(entry)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.pub.Publish(ctx, event); err != nil {
			a.logger.Warn("telemetry: audit publish failed", "action", event.Action, "error", err)
		}
	}()
}

// Drain waits for in-flight publishes or until ctx is done.
func (a *AsyncEmitter) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
