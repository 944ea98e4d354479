package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	os.Clearenv()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"JWT_SECRET": testSecret})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.JWTIssuer != "edu-platform-auth" || cfg.JWTAudience != "edu-platform-api" {
		t.Errorf("issuer/audience = %q/%q", cfg.JWTIssuer, cfg.JWTAudience)
	}
	durations := map[string][2]time.Duration{
		"JWTAccessTTL":    {cfg.JWTAccessTTL, 15 * time.Minute},
		"SessionTTL":      {cfg.SessionTTL, 720 * time.Hour},
		"RefreshTTL":      {cfg.RefreshTTL, 720 * time.Hour},
		"CleanupInterval": {cfg.CleanupInterval, time.Hour},
		"OTPTTL":          {cfg.OTPTTL, 10 * time.Minute},
		"OTPCooldown":     {cfg.OTPCooldown, time.Minute},
		"SMSTimeout":      {cfg.SMSTimeout, 10 * time.Second},
	}
	for name, d := range durations {
		if d[0] != d[1] {
			t.Errorf("%s = %v, want %v", name, d[0], d[1])
		}
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.OTPMaxAttempts != 5 {
		t.Errorf("OTPMaxAttempts = %d, want 5", cfg.OTPMaxAttempts)
	}
	if cfg.SMSProvider != SMSProviderGateway {
		t.Errorf("SMSProvider = %q", cfg.SMSProvider)
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("SMTPPort = %d, want 587", cfg.SMTPPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Version != "dev" {
		t.Errorf("Version = %q, want dev", cfg.Version)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	setEnv(t, map[string]string{
		"JWT_SECRET":   testSecret,
		"HTTP_ADDR":    ":9090",
		"JWT_ISSUER":   "custom-issuer",
		"BCRYPT_COST":  "14",
		"SESSION_TTL":  "24h",
		"OTP_COOLDOWN": "0s",
		"SMS_PROVIDER": "Twilio",
		"REDIS_DB":     "3",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.JWTIssuer != "custom-issuer" || cfg.BcryptCost != 14 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.OTPCooldown != 0 {
		t.Errorf("OTPCooldown = %v, want 0", cfg.OTPCooldown)
	}
	if cfg.SMSProvider != SMSProviderTwilio {
		t.Errorf("SMSProvider = %q, want twilio", cfg.SMSProvider)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d", cfg.RedisDB)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET"},
		{"half key pair", map[string]string{"JWT_PRIVATE_KEY": "pem"}, "must be set together"},
		{"bcrypt too low", map[string]string{"JWT_SECRET": testSecret, "BCRYPT_COST": "3"}, "BCRYPT_COST"},
		{"bcrypt too high", map[string]string{"JWT_SECRET": testSecret, "BCRYPT_COST": "32"}, "BCRYPT_COST"},
		{"unknown sms provider", map[string]string{"JWT_SECRET": testSecret, "SMS_PROVIDER": "pigeon"}, "SMS_PROVIDER"},
		{"negative cooldown", map[string]string{"JWT_SECRET": testSecret, "OTP_COOLDOWN": "-1m"}, "OTP_COOLDOWN"},
		{"zero session ttl", map[string]string{"JWT_SECRET": testSecret, "SESSION_TTL": "0s"}, "SESSION_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), "config:") || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want config: ...%s", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_KeyPairWithoutSecret(t *testing.T) {
	setEnv(t, map[string]string{"JWT_PRIVATE_KEY": "priv.pem", "JWT_PUBLIC_KEY": "pub.pem"})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.HasKeyPair() {
		t.Error("HasKeyPair = false")
	}
}

func TestSMSConfigured(t *testing.T) {
	c := &Config{SMSProvider: SMSProviderGateway}
	if c.SMSConfigured() {
		t.Error("gateway without url/key should not be configured")
	}
	c.SMSGatewayURL, c.SMSAPIKey = "https://sms.example.com/send", "k"
	if !c.SMSConfigured() {
		t.Error("gateway with url/key should be configured")
	}
	tw := &Config{SMSProvider: SMSProviderTwilio, TwilioAccountSID: "AC1", TwilioAuthToken: "t"}
	if tw.SMSConfigured() {
		t.Error("twilio without from number should not be configured")
	}
	tw.TwilioFromNumber = "+15550000"
	if !tw.SMSConfigured() {
		t.Error("twilio should be configured")
	}
}

func TestIsProduction(t *testing.T) {
	if !(&Config{Env: "Production"}).IsProduction() {
		t.Error("IsProduction should be case-insensitive")
	}
	if (&Config{Env: "development"}).IsProduction() {
		t.Error("development is not production")
	}
}

func TestKafkaBrokersList(t *testing.T) {
	c := &Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}
	got := c.KafkaBrokersList()
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}
	if (&Config{}).KafkaBrokersList() != nil {
		t.Error("empty KAFKA_BROKERS should yield nil")
	}
}

func TestLoad_AuditPipelineDefaults(t *testing.T) {
	setEnv(t, map[string]string{"JWT_SECRET": testSecret, "KAFKA_BROKERS": "localhost:9092"})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuditKafkaTopic != "edu-auth-audit" || cfg.KafkaGroupID != "edu-auth-audit-shipper" {
		t.Errorf("topic/group = %q/%q", cfg.AuditKafkaTopic, cfg.KafkaGroupID)
	}
	if len(cfg.KafkaBrokersList()) != 1 {
		t.Errorf("brokers = %v", cfg.KafkaBrokersList())
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	setEnv(t, map[string]string{"JWT_SECRET": testSecret, "TRUSTED_PROXIES": "10.0.0.0/8, 192.0.2.1"})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.TrustedProxyPrefixes(); len(got) != 2 {
		t.Errorf("TrustedProxyPrefixes = %v", got)
	}

	setEnv(t, map[string]string{"JWT_SECRET": testSecret, "TRUSTED_PROXIES": "not-an-ip"})
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TRUSTED_PROXIES") {
		t.Errorf("err = %v, want TRUSTED_PROXIES error", err)
	}
}
