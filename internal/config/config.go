// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"edu-platform/auth/internal/security"
)

// SMS providers accepted in SMS_PROVIDER.
const (
	SMSProviderGateway = "gateway"
	SMSProviderTwilio  = "twilio"
)

// minJWTSecretLen is the shortest HS256 secret accepted.
const minJWTSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs on in-memory stores (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr enables the Redis OTP challenge store when set (e.g. localhost:6379).
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWTSecret is the HS256 signing secret; at least 32 bytes. Ignored when a key pair is set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	// SessionTTL is the fixed lifetime of a session from login.
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`
	// RefreshTTL is the lifetime of each refresh token, capped at its session's expiry.
	RefreshTTL time.Duration `mapstructure:"REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// CleanupInterval is the period of the expired session sweep.
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	OTPTTL time.Duration `mapstructure:"OTP_TTL"`
	// OTPCooldown is the minimum gap between codes for one target; 0 disables it.
	OTPCooldown    time.Duration `mapstructure:"OTP_COOLDOWN"`
	OTPMaxAttempts int           `mapstructure:"OTP_MAX_ATTEMPTS"`

	// SMSProvider selects the SMS backend: "gateway" or "twilio".
	SMSProvider        string        `mapstructure:"SMS_PROVIDER"`
	SMSGatewayURL      string        `mapstructure:"SMS_GATEWAY_URL"`
	SMSGatewayUsername string        `mapstructure:"SMS_GATEWAY_USERNAME"`
	SMSAPIKey          string        `mapstructure:"SMS_API_KEY"`
	SMSSenderID        string        `mapstructure:"SMS_SENDER_ID"`
	SMSTimeout         time.Duration `mapstructure:"SMS_TIMEOUT"`
	TwilioAccountSID   string        `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string        `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber   string        `mapstructure:"TWILIO_FROM_NUMBER"`

	// SMTPHost enables email delivery when set.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// AppName appears in OTP messages and as the service label of logs and metrics.
	AppName  string `mapstructure:"APP_NAME"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Version is reported as service.version on traces and audit records.
	Version string `mapstructure:"APP_VERSION"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated broker list. When set, audit events are also
	// published to AuditKafkaTopic.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the worker's audit shipper.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL enables the worker's Kafka to Loki audit shipper (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For and X-Real-IP headers
	// are honoured. Empty means the peer address is always the client address.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv picks it up during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "edu-platform-auth")
	v.SetDefault("JWT_AUDIENCE", "edu-platform-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("SESSION_TTL", "720h") // 30d
	v.SetDefault("REFRESH_TTL", "720h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("CLEANUP_INTERVAL", "1h")
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_COOLDOWN", "1m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("SMS_PROVIDER", SMSProviderGateway)
	v.SetDefault("SMS_GATEWAY_URL", "")
	v.SetDefault("SMS_GATEWAY_USERNAME", "")
	v.SetDefault("SMS_API_KEY", "")
	v.SetDefault("SMS_SENDER_ID", "")
	v.SetDefault("SMS_TIMEOUT", "10s")
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_FROM_NUMBER", "")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("APP_NAME", "edu-platform-auth")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "edu-auth-audit")
	v.SetDefault("KAFKA_GROUP_ID", "edu-auth-audit-shipper")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("TRUSTED_PROXIES", "")
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch {
	case c.HasKeyPair():
	case c.JWTPrivateKey != "" || c.JWTPublicKey != "":
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	case len(c.JWTSecret) < minJWTSecretLen:
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes when no key pair is set", minJWTSecretLen)
	}
	if c.JWTIssuer == "" || c.JWTAudience == "" {
		return errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.JWTAccessTTL <= 0 || c.SessionTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL, SESSION_TTL and REFRESH_TTL must be positive")
	}
	if c.OTPCooldown < 0 {
		return errors.New("config: OTP_COOLDOWN must not be negative")
	}
	switch strings.ToLower(c.SMSProvider) {
	case SMSProviderGateway, SMSProviderTwilio:
		c.SMSProvider = strings.ToLower(c.SMSProvider)
	default:
		return fmt.Errorf("config: SMS_PROVIDER must be %q or %q", SMSProviderGateway, SMSProviderTwilio)
	}
	if _, err := security.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
	}
	return nil
}

// TrustedProxyPrefixes returns TrustedProxies parsed. Validate has already rejected
// malformed entries.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	p, _ := security.ParseTrustedProxies(c.TrustedProxies)
	return p
}

// HasKeyPair reports whether both JWT keys are configured.
func (c *Config) HasKeyPair() bool {
	return c.JWTPrivateKey != "" && c.JWTPublicKey != ""
}

// SMSConfigured reports whether the selected SMS provider has its credentials.
func (c *Config) SMSConfigured() bool {
	if c.SMSProvider == SMSProviderTwilio {
		return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
	}
	return c.SMSGatewayURL != "" && c.SMSAPIKey != ""
}

// KafkaBrokersList returns KafkaBrokers split on commas with blanks dropped.
func (c *Config) KafkaBrokersList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
