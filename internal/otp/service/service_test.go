package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"edu-platform/auth/internal/otp/domain"
	"edu-platform/auth/internal/otp/email"
	otprepo "edu-platform/auth/internal/otp/repository"
	"edu-platform/auth/internal/platform/apperr"
	"edu-platform/auth/internal/telemetry/metrics"
	userdomain "edu-platform/auth/internal/user/domain"
	userrepo "edu-platform/auth/internal/user/repository"
)

type fakeSMS struct {
	mu    sync.Mutex
	err   error
	calls []string
	block bool
}

func (f *fakeSMS) SendSMS(ctx context.Context, phone, message string) error {
	f.mu.Lock()
	f.calls = append(f.calls, phone+"|"+message)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEmail struct {
	mu   sync.Mutex
	err  error
	sent []email.Message
}

func (f *fakeEmail) SendEmail(_ context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogEvent(_ context.Context, _, _, action, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	svc   *Service
	sms   *fakeSMS
	email *fakeEmail
	store *otprepo.MemoryStore
	users *userrepo.MemoryRepository
	clock *clock
	audit *recordingAudit
	mt    *metrics.Metrics
	code  string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		sms:   &fakeSMS{},
		email: &fakeEmail{},
		clock: &clock{now: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)},
		audit: &recordingAudit{},
		mt:    metrics.New(prometheus.NewRegistry(), "otp-test"),
		code:  "482915",
		users: userrepo.NewMemoryRepository(
			&userdomain.User{ID: "with-email", Phone: "+15550001", Email: "Parent@School.edu", Role: userdomain.RoleInternalStudent},
			&userdomain.User{ID: "phone-only", Phone: "+15550002", Role: userdomain.RoleInternalStudent},
		),
	}
	f.store = otprepo.NewMemoryStoreWithClock(f.clock.Now)
	f.svc = NewService(cfg, f.users, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		WithStore(f.store),
		WithSMSSender(f.sms),
		WithEmailSender(f.email),
		WithMetrics(f.mt),
		WithAuditLogger(f.audit),
		WithClock(f.clock.Now),
		WithCodeGenerator(func() (string, error) { return f.code, nil }),
	)
	return f
}

func TestSendViaEmail_MessageContent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	if !f.svc.SendViaEmail(context.Background(), "a@school.edu", "123456") {
		t.Fatal("SendViaEmail = false")
	}
	msg := f.email.sent[0]
	if msg.To != "a@school.edu" {
		t.Errorf("To = %q", msg.To)
	}
	for _, body := range []string{msg.Text, msg.HTML} {
		if !strings.Contains(body, "123456") || !strings.Contains(body, "10 minutes") {
			t.Errorf("body missing code or expiry: %q", body)
		}
	}
}

func TestSendViaEmail_FailureReturnsFalse(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.email.err = errors.New("relay down")
	if f.svc.SendViaEmail(context.Background(), "a@school.edu", "123456") {
		t.Error("SendViaEmail = true on provider failure")
	}
	if got := testutil.ToFloat64(f.mt.OTPDeliveries.WithLabelValues("email", metrics.ResultFailure)); got != 1 {
		t.Errorf("email failure count = %v", got)
	}
}

func TestSendViaSMS_UnconfiguredAndTimeout(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil)
	if svc.SendViaSMS(context.Background(), "+15550001", "123456") {
		t.Error("SendViaSMS without sender = true")
	}

	cfg := DefaultConfig()
	cfg.SMSTimeout = 10 * time.Millisecond
	f := newFixture(t, cfg)
	f.sms.block = true
	if f.svc.SendViaSMS(context.Background(), "+15550001", "123456") {
		t.Error("SendViaSMS = true after timeout")
	}
}

func TestSendWithFallback_SMSSuccess(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	d, err := f.svc.SendWithFallback(context.Background(), "with-email", " +15550001 ", false)
	if err != nil {
		t.Fatalf("SendWithFallback: %v", err)
	}
	if d.Channel != domain.ChannelSMS || d.DeliveredTo != "+15550001" {
		t.Errorf("delivery = %+v", d)
	}
	if f.email.count() != 0 {
		t.Error("email should not be attempted when sms succeeds")
	}
	if !d.ExpiresAt.Equal(f.clock.now.Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", d.ExpiresAt)
	}
	if c, _ := f.store.Get(context.Background(), "+15550001"); c == nil || c.UserID != "with-email" {
		t.Errorf("stored challenge = %+v", c)
	}
}

func TestSendWithFallback_Ordering(t *testing.T) {
	tests := []struct {
		name          string
		userID        string
		target        string
		isEmail       bool
		smsErr        error
		emailErr      error
		wantSMS       int
		wantEmail     int
		wantChannel   domain.Channel
		wantDelivered string
		wantErr       error
	}{
		{
			name: "sms fails, user has email", userID: "with-email", target: "+15550001",
			smsErr: errors.New("gateway"), wantSMS: 1, wantEmail: 1,
			wantChannel: domain.ChannelEmail, wantDelivered: "Parent@School.edu",
		},
		{
			name: "sms fails, no email on record", userID: "phone-only", target: "+15550002",
			smsErr: errors.New("gateway"), wantSMS: 1, wantEmail: 0, wantErr: apperr.ErrDeliveryFailed,
		},
		{
			name: "sms fails, unknown user", userID: "ghost", target: "+15550003",
			smsErr: errors.New("gateway"), wantSMS: 1, wantEmail: 0, wantErr: apperr.ErrDeliveryFailed,
		},
		{
			name: "sms and email fail", userID: "with-email", target: "+15550001",
			smsErr: errors.New("gateway"), emailErr: errors.New("relay"), wantSMS: 1, wantEmail: 1,
			wantErr: apperr.ErrDeliveryFailed,
		},
		{
			name: "email target fails, never sms", userID: "with-email", target: "parent@school.edu", isEmail: true,
			emailErr: errors.New("relay"), wantSMS: 0, wantEmail: 1, wantErr: apperr.ErrDeliveryFailed,
		},
		{
			name: "email target succeeds", userID: "with-email", target: "Parent@School.edu", isEmail: true,
			wantSMS: 0, wantEmail: 1, wantChannel: domain.ChannelEmail, wantDelivered: "parent@school.edu",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			f.sms.err = tt.smsErr
			f.email.err = tt.emailErr

			d, err := f.svc.SendWithFallback(context.Background(), tt.userID, tt.target, tt.isEmail)
			if f.sms.count() != tt.wantSMS || f.email.count() != tt.wantEmail {
				t.Errorf("attempts sms=%d email=%d, want sms=%d email=%d", f.sms.count(), f.email.count(), tt.wantSMS, tt.wantEmail)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if c, _ := f.store.Get(context.Background(), normalizeTarget(tt.target, tt.isEmail)); c != nil {
					t.Error("no challenge should be stored after failed delivery")
				}
				return
			}
			if err != nil {
				t.Fatalf("SendWithFallback: %v", err)
			}
			if d.Channel != tt.wantChannel || d.DeliveredTo != tt.wantDelivered {
				t.Errorf("delivery = %+v", d)
			}
		})
	}
}

func TestSendWithFallback_Cooldown(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	if _, err := f.svc.SendWithFallback(ctx, "with-email", "+15550001", false); err != nil {
		t.Fatalf("first send: %v", err)
	}

	_, err := f.svc.SendWithFallback(ctx, "with-email", "+15550001", false)
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("second send err = %v, want RateLimited", err)
	}
	if f.sms.count() != 1 {
		t.Errorf("sms attempts = %d, want 1", f.sms.count())
	}

	f.clock.Advance(time.Minute)
	if _, err := f.svc.SendWithFallback(ctx, "with-email", "+15550001", false); err != nil {
		t.Errorf("send after cooldown: %v", err)
	}
}

func TestSendWithFallback_ZeroCooldownAllowsResend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	f := newFixture(t, cfg)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.SendWithFallback(ctx, "with-email", "+15550001", false); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
}

func TestSendForIdentifier(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	d, err := f.svc.SendForIdentifier(ctx, "nobody@school.edu")
	if err != nil || d != nil {
		t.Fatalf("unknown identifier = %v, %v; want nil, nil", d, err)
	}
	if f.email.count() != 0 || f.sms.count() != 0 {
		t.Fatal("nothing should be sent for an unknown identifier")
	}

	d, err = f.svc.SendForIdentifier(ctx, " PARENT@school.edu ")
	if err != nil {
		t.Fatalf("SendForIdentifier: %v", err)
	}
	if d.Channel != domain.ChannelEmail || d.DeliveredTo != "parent@school.edu" {
		t.Errorf("delivery = %+v", d)
	}
	if err := f.svc.Verify(ctx, "parent@school.edu", f.code); err != nil {
		t.Errorf("Verify: %v", err)
	}

	f.sms.err = errors.New("carrier down")
	f.clock.Advance(time.Hour)
	d, err = f.svc.SendForIdentifier(ctx, "+15550001")
	if err != nil {
		t.Fatalf("phone identifier: %v", err)
	}
	if d.Channel != domain.ChannelEmail {
		t.Errorf("phone identifier with failing SMS should fall back to email, got %+v", d)
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	if _, err := f.svc.SendWithFallback(ctx, "with-email", "+15550001", false); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := f.svc.Verify(ctx, "+15550001", "000000"); apperr.ReasonOf(err) != ReasonInvalidCode {
		t.Errorf("wrong code err = %v", err)
	}
	if err := f.svc.Verify(ctx, "+15550001", f.code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := f.svc.Verify(ctx, "+15550001", f.code); apperr.ReasonOf(err) != ReasonNotFound {
		t.Errorf("reuse err = %v, want %q", err, ReasonNotFound)
	}
	if f.audit.actions[len(f.audit.actions)-1] != "otp_verified" {
		t.Errorf("audit actions = %v", f.audit.actions)
	}
}

func TestVerify_ConcurrentSingleUse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stores := map[string]otprepo.Store{
		"memory": otprepo.NewMemoryStore(),
		"redis":  otprepo.NewRedisStore(client),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Config{Cooldown: 0, MaxAttempts: 100})
			f.svc.store = store
			ctx := context.Background()

			for round := 0; round < 20; round++ {
				if _, err := f.svc.SendWithFallback(ctx, "with-email", "parent@school.edu", true); err != nil {
					t.Fatalf("send: %v", err)
				}
				var wg sync.WaitGroup
				var wins atomic.Int32
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if f.svc.Verify(ctx, "parent@school.edu", f.code) == nil {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()
				if wins.Load() != 1 {
					t.Fatalf("round %d: code accepted %d times, want 1", round, wins.Load())
				}
			}
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	_, _ = f.svc.SendWithFallback(ctx, "with-email", "parent@school.edu", true)

	f.clock.Advance(10 * time.Minute)
	if err := f.svc.Verify(ctx, "PARENT@school.edu", f.code); apperr.ReasonOf(err) != ReasonNotFound {
		t.Errorf("err = %v, want %q", err, ReasonNotFound)
	}
}

func TestVerify_TooManyAttempts(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	_, _ = f.svc.SendWithFallback(ctx, "with-email", "+15550001", false)

	for i := 0; i < 5; i++ {
		if err := f.svc.Verify(ctx, "+15550001", "111111"); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("attempt %d err = %v", i+1, err)
		}
	}
	if err := f.svc.Verify(ctx, "+15550001", f.code); apperr.ReasonOf(err) != ReasonTooManyAttempts {
		t.Fatalf("6th attempt err = %v, want %q", err, ReasonTooManyAttempts)
	}
	if err := f.svc.Verify(ctx, "+15550001", f.code); apperr.ReasonOf(err) != ReasonNotFound {
		t.Errorf("after lockout err = %v, want %q", err, ReasonNotFound)
	}
}

func TestVerify_NoStoreNotImplemented(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil)
	err := svc.Verify(context.Background(), "+15550001", "123456")
	if !errors.Is(err, apperr.ErrNotImplemented) {
		t.Errorf("err = %v, want NotImplemented", err)
	}
}
