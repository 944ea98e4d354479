// Package server assembles the auth core from configuration: storage, token signing,
// OTP delivery, audit, metrics, tracing and the HTTP router.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"edu-platform/auth/internal/audit"
	auditrepo "edu-platform/auth/internal/audit/repository"
	"edu-platform/auth/internal/config"
	"edu-platform/auth/internal/db"
	"edu-platform/auth/internal/health"
	identityservice "edu-platform/auth/internal/identity/service"
	"edu-platform/auth/internal/otp/email"
	otprepo "edu-platform/auth/internal/otp/repository"
	otpservice "edu-platform/auth/internal/otp/service"
	"edu-platform/auth/internal/otp/sms"
	"edu-platform/auth/internal/security"
	sessionrepo "edu-platform/auth/internal/session/repository"
	sessionservice "edu-platform/auth/internal/session/service"
	"edu-platform/auth/internal/telemetry"
	"edu-platform/auth/internal/telemetry/metrics"
	telemetryotel "edu-platform/auth/internal/telemetry/otel"
	"edu-platform/auth/internal/telemetry/producer"
	transport "edu-platform/auth/internal/transport/http"
	userrepo "edu-platform/auth/internal/user/repository"
)

// App is a fully wired auth core.
type App struct {
	Handler  http.Handler
	Sessions *sessionservice.Manager
	Sweeper  *sessionservice.Sweeper
	DB       *sqlx.DB

	closers []func(context.Context) error
}

// Close releases connections and flushes telemetry in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) { a.closers = append(a.closers, fn) }

// New builds the App. Without DATABASE_URL users and sessions live in memory, which
// is refused in production. Without REDIS_ADDR OTP challenges live in memory. With
// KAFKA_BROKERS audit events are also published to Kafka.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	if cfg.DatabaseURL == "" && cfg.IsProduction() {
		return nil, errors.New("server: DATABASE_URL is required in production")
	}
	app = &App{}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.AppName,
		Version:     cfg.Version,
		Environment: cfg.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	app.onClose(providers.Shutdown)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, cfg.AppName)

	tokens, err := NewTokenProvider(cfg)
	if err != nil {
		return nil, err
	}

	pingers := map[string]health.Pinger{}
	var (
		users    userrepo.Repository
		sessions sessionrepo.Repository
		auditLog auditrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		app.DB = conn
		app.onClose(func(context.Context) error { return conn.Close() })
		pingers["postgres"] = conn
		users = userrepo.NewPostgresRepository(conn)
		sessions = sessionrepo.NewPostgresRepository(conn)
		auditLog = auditrepo.NewPostgresRepository(conn)
	} else {
		logger.Warn("DATABASE_URL not set: users and sessions are kept in memory")
		users = userrepo.NewMemoryRepository()
		sessions = sessionrepo.NewMemoryRepository()
	}

	var store otprepo.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		app.onClose(func(context.Context) error { return client.Close() })
		pingers["redis"] = health.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		store = otprepo.NewRedisStore(client)
	} else {
		logger.Warn("REDIS_ADDR not set: OTP challenges are kept in memory")
		store = otprepo.NewMemoryStore()
	}

	emitters := audit.Emitters{providers.AuditEmitter()}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := producer.NewKafkaProducer(brokers, cfg.AuditKafkaTopic)
		if err != nil {
			return nil, err
		}
		async := telemetry.NewAsyncEmitter(kp, logger)
		app.onClose(func(ctx context.Context) error {
			if err := async.Drain(ctx); err != nil {
				logger.Warn("audit publishes still in flight at shutdown", "error", err)
			}
			return kp.Close()
		})
		emitters = append(emitters, async)
	}
	auditor := audit.NewLogger(auditLog, emitters, nil, logger)

	mgr := sessionservice.NewManager(sessions, users, tokens, sessionservice.Config{
		SessionTTL: cfg.SessionTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, logger, sessionservice.WithMetrics(m), sessionservice.WithAuditLogger(auditor))
	app.Sessions = mgr
	app.Sweeper = sessionservice.NewSweeper(mgr, cfg.CleanupInterval, logger)

	auth := identityservice.NewAuthService(users, security.NewHasher(cfg.BcryptCost), mgr, logger,
		identityservice.WithMetrics(m), identityservice.WithAuditLogger(auditor))

	otpOpts := []otpservice.Option{
		otpservice.WithStore(store),
		otpservice.WithMetrics(m),
		otpservice.WithAuditLogger(auditor),
	}
	if s := NewSMSSender(cfg); s != nil {
		otpOpts = append(otpOpts, otpservice.WithSMSSender(s))
	} else {
		logger.Warn("SMS provider not configured: phone OTPs fall back to email")
	}
	if cfg.SMTPHost != "" {
		otpOpts = append(otpOpts, otpservice.WithEmailSender(email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.AppName,
		})))
	} else {
		logger.Warn("SMTP_HOST not set: email OTPs cannot be delivered")
	}
	otp := otpservice.NewService(otpservice.Config{
		TTL:         cfg.OTPTTL,
		Cooldown:    cfg.OTPCooldown,
		MaxAttempts: cfg.OTPMaxAttempts,
		SMSTimeout:  cfg.SMSTimeout,
		AppName:     cfg.AppName,
	}, users, logger, otpOpts...)

	app.Handler = transport.NewRouter(transport.Deps{
		Auth:     auth,
		Sessions: mgr,
		OTP:      otp,
		Health:   health.NewChecker(pingers, 0),
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,

		TrustedProxies: cfg.TrustedProxyPrefixes(),
	})
	return app, nil
}

// NewTokenProvider returns an RS256/ES256 provider when a key pair is configured and
// an HS256 provider otherwise.
func NewTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.HasKeyPair() {
		signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("jwt private key: %w", err)
		}
		pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt public key: %w", err)
		}
		return security.NewKeyPairTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessTTL)
	}
	return security.NewHMACTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessTTL)
}

// NewSMSSender returns the configured SMS provider, or nil when its credentials are missing.
func NewSMSSender(cfg *config.Config) sms.Sender {
	if !cfg.SMSConfigured() {
		return nil
	}
	if cfg.SMSProvider == config.SMSProviderTwilio {
		return sms.NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	return sms.NewGatewayClient(cfg.SMSGatewayURL, cfg.SMSGatewayUsername, cfg.SMSAPIKey, cfg.SMSSenderID, cfg.SMSTimeout)
}
