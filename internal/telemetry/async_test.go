package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	auditdomain "edu-platform/auth/internal/audit/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []AuditEvent
	err    error
	delay  time.Duration
}

func (p *recordingPublisher) Publish(ctx context.Context, e AuditEvent) error {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay):
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) snapshot() []AuditEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AuditEvent(nil), p.events...)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleEntry() *auditdomain.AuditLog {
	return &auditdomain.AuditLog{
		ID:        "a1",
		UserID:    "u1",
		SessionID: "s1",
		Action:    "login_success",
		Resource:  "session",
		IP:        "192.0.2.1",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestAsyncEmitter_Publishes(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewAsyncEmitter(pub, quietLogger())
	e.Emit(context.Background(), sampleEntry())
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	got := pub.snapshot()
	if len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}
	if got[0].Action != "login_success" || got[0].UserID != "u1" || got[0].IP != "192.0.2.1" {
		t.Errorf("event = %+v", got[0])
	}
}

func TestAsyncEmitter_IgnoresCancelledRequest(t *testing.T) {
	pub := &recordingPublisher{delay: 20 * time.Millisecond}
	e := NewAsyncEmitter(pub, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	e.Emit(ctx, sampleEntry())
	cancel()
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(pub.snapshot()) != 1 {
		t.Error("publish should complete after request cancellation")
	}
}

func TestAsyncEmitter_ErrorIsSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	e := NewAsyncEmitter(pub, quietLogger())
	e.Emit(context.Background(), sampleEntry())
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestAsyncEmitter_NilSafe(t *testing.T) {
	var e *AsyncEmitter
	e.Emit(context.Background(), sampleEntry())
	NewAsyncEmitter(nil, nil).Emit(context.Background(), sampleEntry())
	NewAsyncEmitter(&recordingPublisher{}, nil).Emit(context.Background(), nil)
}

func TestAsyncEmitter_DrainHonorsContext(t *testing.T) {
	pub := &recordingPublisher{delay: time.Second}
	e := NewAsyncEmitter(pub, quietLogger())
	e.Emit(context.Background(), sampleEntry())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := e.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain err = %v, want deadline exceeded", err)
	}
}
