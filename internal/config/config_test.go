package config

import (
	"log/slog"
	"os"
	"testing"

	"github.com/outboundly/campaigns/internal/provider"
	"github.com/outboundly/campaigns/internal/store/models"
)

func TestDefaults(t *testing.T) {
	for _, env := range []string{
		"CAMPAIGNS_DATABASE_URL", "CAMPAIGNS_HTTP_PORT", "CAMPAIGNS_TLS_CERT",
		"CAMPAIGNS_TLS_KEY", "CAMPAIGNS_LOG_LEVEL", "CAMPAIGNS_DEFAULT_PROVIDER",
	} {
		os.Unsetenv(env)
	}

	os.Args = []string{"campaignd", "--database-url", "postgres://localhost/campaigns"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.TLSCert != "" {
		t.Errorf("TLSCert = %q, want empty", cfg.TLSCert)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.DefaultProvider != defaultProviderName {
		t.Errorf("DefaultProvider = %q, want %q", cfg.DefaultProvider, defaultProviderName)
	}
	if cfg.MaxGlobalConcurrency != defaultMaxGlobalConcurrency {
		t.Errorf("MaxGlobalConcurrency = %d, want %d", cfg.MaxGlobalConcurrency, defaultMaxGlobalConcurrency)
	}
	if cfg.OrphanThreshold != defaultOrphanThreshold {
		t.Errorf("OrphanThreshold = %v, want %v", cfg.OrphanThreshold, defaultOrphanThreshold)
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"campaignd"}
	t.Setenv("CAMPAIGNS_DATABASE_URL", "postgres://localhost/campaigns")
	t.Setenv("CAMPAIGNS_HTTP_PORT", "9090")
	t.Setenv("CAMPAIGNS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	os.Args = []string{"campaignd", "--database-url", "postgres://localhost/campaigns", "--http-port", "3000", "--log-level", "warn"}
	t.Setenv("CAMPAIGNS_HTTP_PORT", "9090")
	t.Setenv("CAMPAIGNS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateMissingDatabaseURL(t *testing.T) {
	os.Args = []string{"campaignd"}
	t.Setenv("CAMPAIGNS_DATABASE_URL", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing database-url, got nil")
	}
}

func TestValidateInvalidPort(t *testing.T) {
	os.Args = []string{"campaignd", "--database-url", "postgres://localhost/campaigns", "--http-port", "99999"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"campaignd", "--database-url", "postgres://localhost/campaigns", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateTLSMismatch(t *testing.T) {
	os.Args = []string{"campaignd", "--database-url", "postgres://localhost/campaigns", "--tls-cert", "cert.pem"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when tls-cert provided without tls-key")
	}
}

func TestValidateInvalidDefaultProvider(t *testing.T) {
	os.Args = []string{"campaignd", "--database-url", "postgres://localhost/campaigns", "--default-provider", "sipgw"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid default provider, got nil")
	}
}

func TestDefaultCredentials(t *testing.T) {
	os.Args = []string{"campaignd", "--database-url", "postgres://localhost/campaigns",
		"--twilio-account-sid", "ACxxxx", "--twilio-auth-token", "secret"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creds := cfg.DefaultCredentials()
	twilio, ok := creds[provider.Twilio]
	if !ok {
		t.Fatal("expected twilio default credentials to be present")
	}
	if twilio.AccountSID != "ACxxxx" {
		t.Errorf("AccountSID = %q, want ACxxxx", twilio.AccountSID)
	}
	if _, ok := creds[provider.Plivo]; ok {
		t.Error("expected no plivo default credentials when unconfigured")
	}
}

func TestCallStateTimeouts(t *testing.T) {
	os.Args = []string{"campaignd", "--database-url", "postgres://localhost/campaigns"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	timeouts := cfg.CallStateTimeouts()
	if timeouts[models.CallInitiating] != defaultInitiatingTimeout {
		t.Errorf("initiating timeout = %v, want %v", timeouts[models.CallInitiating], defaultInitiatingTimeout)
	}
	if timeouts[models.CallWarming] != defaultInitiatingTimeout {
		t.Errorf("warming timeout = %v, want %v (shares initiating's budget)", timeouts[models.CallWarming], defaultInitiatingTimeout)
	}
	if timeouts[models.CallRinging] != defaultRingingTimeout {
		t.Errorf("ringing timeout = %v, want %v", timeouts[models.CallRinging], defaultRingingTimeout)
	}
	if timeouts[models.CallOngoing] != defaultOngoingTimeout {
		t.Errorf("ongoing timeout = %v, want %v", timeouts[models.CallOngoing], defaultOngoingTimeout)
	}
}

func TestWebhookSecretBytesGeneratesWhenEmpty(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.WebhookSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}
	if cfg.WebhookSecret == "" {
		t.Error("expected WebhookSecret to be persisted after generation")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
