// Package service issues one-time codes over SMS or email and verifies them.
package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"edu-platform/auth/internal/audit"
	"edu-platform/auth/internal/otp"
	"edu-platform/auth/internal/otp/domain"
	"edu-platform/auth/internal/otp/email"
	otprepo "edu-platform/auth/internal/otp/repository"
	"edu-platform/auth/internal/otp/sms"
	"edu-platform/auth/internal/platform/apperr"
	"edu-platform/auth/internal/telemetry/metrics"
	userdomain "edu-platform/auth/internal/user/domain"
)

// Failure reasons surfaced by Service.
const (
	ReasonDeliveryFailed   = "Failed to deliver OTP"
	ReasonCooldown         = "Please wait before requesting a new code"
	ReasonNotFound         = "OTP expired or not found"
	ReasonTooManyAttempts  = "Too many attempts"
	ReasonInvalidCode      = "Invalid OTP"
	notImplementedVerifier = "OTP verification"
)

// UserLookup resolves the owner of a target for the email fallback.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmailOrPhone(ctx context.Context, identifier string) (*userdomain.User, error)
}

// Config controls code lifetime, resend cooldown, and verification attempts.
// A zero Cooldown disables the resend limit.
type Config struct {
	TTL         time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	SMSTimeout  time.Duration
	AppName     string
}

// DefaultConfig returns a 10 minute TTL, 1 minute cooldown and 5 attempts.
func DefaultConfig() Config {
	return Config{
		TTL:         otprepo.DefaultChallengeTTL,
		Cooldown:    time.Minute,
		MaxAttempts: 5,
		SMSTimeout:  sms.DefaultTimeout,
		AppName:     "Edu Platform",
	}
}

// Delivery reports where a code went.
type Delivery struct {
	Channel     domain.Channel
	DeliveredTo string
	ExpiresAt   time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithStore enables cooldown enforcement and verification.
func WithStore(s otprepo.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithSMSSender sets the SMS channel. Without one every SMS attempt fails.
func WithSMSSender(s sms.Sender) Option {
	return func(svc *Service) { svc.sms = s }
}

// WithEmailSender sets the email channel. Without one every email attempt fails.
func WithEmailSender(s email.Sender) Option {
	return func(svc *Service) { svc.email = s }
}

// WithMetrics records delivery outcomes per channel.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(svc *Service) { svc.metrics = mt }
}

// WithAuditLogger records otp_sent and otp_verified events.
func WithAuditLogger(a audit.AuditLogger) Option {
	return func(svc *Service) { svc.audit = a }
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// WithCodeGenerator overrides code generation. Tests use it to know the issued code.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(svc *Service) { svc.generate = gen }
}

// Service delivers and verifies one-time codes.
type Service struct {
	cfg      Config
	users    UserLookup
	store    otprepo.Store
	sms      sms.Sender
	email    email.Sender
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    audit.AuditLogger
	now      func() time.Time
	generate func() (string, error)
}

// NewService returns a Service. Zero TTL, MaxAttempts and SMSTimeout take their defaults.
func NewService(cfg Config, users UserLookup, logger *slog.Logger, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SMSTimeout <= 0 {
		cfg.SMSTimeout = def.SMSTimeout
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.AppName == "" {
		cfg.AppName = def.AppName
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		users:    users,
		logger:   logger,
		audit:    audit.Nop{},
		now:      time.Now,
		generate: otp.GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) expiryMinutes() int {
	m := int(s.cfg.TTL / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

// SendViaEmail mails code to address. Failures are logged and reported as false.
func (s *Service) SendViaEmail(ctx context.Context, address, code string) bool {
	ok := s.sendViaEmail(ctx, address, code)
	s.metrics.OTPDelivery(string(domain.ChannelEmail), ok)
	return ok
}

func (s *Service) sendViaEmail(ctx context.Context, address, code string) bool {
	if s.email == nil {
		s.logger.WarnContext(ctx, "otp email not sent: no email sender configured")
		return false
	}
	minutes := s.expiryMinutes()
	msg := email.Message{
		To:      address,
		Subject: fmt.Sprintf("Your %s verification code", s.cfg.AppName),
		Text: fmt.Sprintf("Your %s verification code is %s.\n\nIt expires in %d minutes. If you did not request it, ignore this email.\n",
			s.cfg.AppName, code, minutes),
		HTML: fmt.Sprintf(`<p>Your %s verification code is:</p><p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p><p>It expires in %d minutes. If you did not request it, ignore this email.</p>`,
			html.EscapeString(s.cfg.AppName), code, minutes),
	}
	if err := s.email.SendEmail(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "otp email delivery failed", "error", err)
		return false
	}
	return true
}

// SendViaSMS texts code to phone. A missing sender, provider error or timeout yields false.
func (s *Service) SendViaSMS(ctx context.Context, phone, code string) bool {
	ok := s.sendViaSMS(ctx, phone, code)
	s.metrics.OTPDelivery(string(domain.ChannelSMS), ok)
	return ok
}

func (s *Service) sendViaSMS(ctx context.Context, phone, code string) bool {
	if s.sms == nil {
		s.logger.WarnContext(ctx, "otp sms not sent: no sms sender configured")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SMSTimeout)
	defer cancel()
	msg := fmt.Sprintf("Your %s verification code is %s. It expires in %d minutes.", s.cfg.AppName, code, s.expiryMinutes())
	if err := s.sms.SendSMS(ctx, phone, msg); err != nil {
		s.logger.ErrorContext(ctx, "otp sms delivery failed", "error", err)
		return false
	}
	return true
}

// SendWithFallback issues a new code for target and delivers it. Email targets get a
// single email attempt. Phone targets try SMS first, then the owner's email if one is
// on record. The challenge is stored under target only after a successful delivery.
func (s *Service) SendWithFallback(ctx context.Context, userID, target string, isEmailTarget bool) (*Delivery, error) {
	target = normalizeTarget(target, isEmailTarget)
	if s.store != nil && s.cfg.Cooldown > 0 {
		in, remaining, err := s.store.InCooldown(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("check otp cooldown: %w", err)
		}
		if in {
			s.logger.InfoContext(ctx, "otp request refused during cooldown", "user_id", userID, "retry_in", remaining.Round(time.Second))
			return nil, apperr.RateLimited(ReasonCooldown)
		}
	}

	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	var d *Delivery
	if isEmailTarget {
		if s.SendViaEmail(ctx, target, code) {
			d = &Delivery{Channel: domain.ChannelEmail, DeliveredTo: target}
		}
	} else {
		if s.SendViaSMS(ctx, target, code) {
			d = &Delivery{Channel: domain.ChannelSMS, DeliveredTo: target}
		} else if addr := s.fallbackEmail(ctx, userID); addr != "" {
			s.logger.InfoContext(ctx, "otp sms failed, falling back to email", "user_id", userID)
			if s.SendViaEmail(ctx, addr, code) {
				d = &Delivery{Channel: domain.ChannelEmail, DeliveredTo: addr}
			}
		}
	}
	if d == nil {
		return nil, apperr.DeliveryFailed(ReasonDeliveryFailed)
	}

	now := s.now()
	d.ExpiresAt = now.Add(s.cfg.TTL)
	if s.store != nil {
		c := &domain.Challenge{
			Target:    target,
			UserID:    userID,
			Channel:   d.Channel,
			CodeHash:  otp.HashCode(code),
			CreatedAt: now,
			ExpiresAt: d.ExpiresAt,
		}
		if err := s.store.Save(ctx, c, s.cfg.TTL, s.cfg.Cooldown); err != nil {
			return nil, fmt.Errorf("save otp challenge: %w", err)
		}
	}
	s.audit.LogEvent(ctx, userID, "", audit.ActionOTPSent, audit.ResourceOTP, fmt.Sprintf(`{"channel":%q}`, d.Channel))
	return d, nil
}

func (s *Service) fallbackEmail(ctx context.Context, userID string) string {
	if s.users == nil || userID == "" {
		return ""
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "otp fallback user lookup failed", "user_id", userID, "error", err)
		return ""
	}
	if !u.HasEmail() {
		return ""
	}
	return strings.TrimSpace(u.Email)
}

// SendForIdentifier issues a code for the account whose email or phone is identifier,
// for callers that cannot log in (password reset). It returns (nil, nil) when no account
// matches so callers can answer uniformly.
func (s *Service) SendForIdentifier(ctx context.Context, identifier string) (*Delivery, error) {
	identifier = strings.TrimSpace(identifier)
	if s.users == nil || identifier == "" {
		return nil, nil
	}
	isEmail := strings.Contains(identifier, "@")
	u, err := s.users.GetByEmailOrPhone(ctx, normalizeTarget(identifier, isEmail))
	if err != nil {
		return nil, fmt.Errorf("lookup otp user: %w", err)
	}
	if u == nil {
		return nil, nil
	}
	return s.SendWithFallback(ctx, u.ID, identifier, isEmail)
}

// Verify checks code against the pending challenge for target. A matching code is
// consumed. After MaxAttempts failed tries the challenge is discarded.
func (s *Service) Verify(ctx context.Context, target, code string) error {
	if s.store == nil {
		return apperr.NotImplemented(notImplementedVerifier)
	}
	target = normalizeTarget(target, strings.Contains(target, "@"))

	c, err := s.store.Get(ctx, target)
	if err != nil {
		return fmt.Errorf("load otp challenge: %w", err)
	}
	if c == nil {
		return apperr.Unauthorized(ReasonNotFound)
	}
	if !s.now().Before(c.ExpiresAt) {
		_ = s.store.Delete(ctx, target)
		return apperr.Unauthorized(ReasonNotFound)
	}

	n, err := s.store.IncrementAttempts(ctx, target)
	if err != nil {
		return fmt.Errorf("count otp attempt: %w", err)
	}
	if n > s.cfg.MaxAttempts {
		if err := s.store.Delete(ctx, target); err != nil {
			s.logger.ErrorContext(ctx, "discard otp challenge failed", "error", err)
		}
		s.logger.WarnContext(ctx, "otp attempts exhausted", "user_id", c.UserID)
		return apperr.Unauthorized(ReasonTooManyAttempts)
	}
	code = strings.TrimSpace(code)
	if !otp.CodeEqual(code, c.CodeHash) {
		return apperr.Unauthorized(ReasonInvalidCode)
	}

	consumed, err := s.store.Consume(ctx, target, otp.HashCode(code))
	if err != nil {
		return fmt.Errorf("consume otp challenge: %w", err)
	}
	if !consumed {
		// Another request used or replaced this code first.
		return apperr.Unauthorized(ReasonNotFound)
	}
	s.audit.LogEvent(ctx, c.UserID, "", audit.ActionOTPVerified, audit.ResourceOTP, fmt.Sprintf(`{"channel":%q}`, c.Channel))
	return nil
}

func normalizeTarget(target string, isEmail bool) string {
	target = strings.TrimSpace(target)
	if isEmail {
		target = strings.ToLower(target)
	}
	return target
}
