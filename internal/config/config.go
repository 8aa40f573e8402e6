// Package config loads campaignd's runtime configuration from CLI flags
// and environment variables. Precedence: CLI flags override env vars,
// env vars override defaults.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/outboundly/campaigns/internal/notify"
	"github.com/outboundly/campaigns/internal/provider"
	"github.com/outboundly/campaigns/internal/store/models"
)

// Config holds all runtime configuration for campaignd.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DatabaseURL string
	HTTPPort    int
	TLSCert     string
	TLSKey      string
	LogLevel    string
	LogFormat   string
	CORSOrigins string
	ACMEDomain  string
	ACMEEmail   string

	WebhookBaseURL  string // public base URL callback URLs are built from, e.g. "https://calls.example.com"
	WebhookSecret   string // hex-encoded 32-byte HMAC secret for callback tokens (auto-generated if empty)
	DefaultProvider string // "twilio" or "plivo"

	MaxGlobalConcurrency    int
	MaxPerTenantConcurrency int
	OrphanThreshold         time.Duration
	HeartbeatInterval       time.Duration
	SweepInterval           time.Duration
	BackpressureSleep       time.Duration
	InterCallPacing         time.Duration
	ProviderRetryMax        int
	ContactPageSize         int
	LowBalanceThreshold     int64

	InitiatingTimeout time.Duration // wall-clock budget for initiating/warming before the reaper times a call out
	RingingTimeout    time.Duration
	OngoingTimeout    time.Duration // provider-call-max; bounds a connected call's total duration
	ReapInterval      time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	PlivoAPIKey      string
	PlivoAPISecret   string

	SMTPHost string
	SMTPPort string
	SMTPFrom string
	SMTPUser string
	SMTPPass string
	SMTPTLS  string
}

const (
	defaultHTTPPort                = 8080
	defaultLogLevel                = "info"
	defaultLogFormat               = "text"
	defaultMaxGlobalConcurrency    = 200
	defaultMaxPerTenantConcurrency = 20
	defaultOrphanThreshold         = 3 * time.Minute
	defaultHeartbeatInterval       = 15 * time.Second
	defaultSweepInterval           = 30 * time.Second
	defaultBackpressureSleep       = 2 * time.Second
	defaultInterCallPacing         = 500 * time.Millisecond
	defaultProviderRetryMax        = 3
	defaultContactPageSize         = 50
	defaultLowBalanceThreshold     = 500
	defaultProviderName            = "twilio"

	defaultInitiatingTimeout = 30 * time.Second
	defaultRingingTimeout    = 60 * time.Second
	defaultOngoingTimeout    = 2 * time.Hour
	defaultReapInterval      = 10 * time.Second
)

// envPrefix is the prefix for all campaignd environment variables.
const envPrefix = "CAMPAIGNS_"

// Load parses configuration from CLI flags and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("campaignd", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection string")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.ACMEDomain, "acme-domain", "", "domain for automatic Let's Encrypt TLS certificate")
	fs.StringVar(&cfg.ACMEEmail, "acme-email", "", "contact email for Let's Encrypt account notifications")

	fs.StringVar(&cfg.WebhookBaseURL, "webhook-base-url", "", "public base URL provider webhooks are attached to, e.g. https://calls.example.com")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "hex-encoded 32-byte secret signing webhook callback tokens (auto-generated if empty)")
	fs.StringVar(&cfg.DefaultProvider, "default-provider", defaultProviderName, "default telephony provider (twilio, plivo)")

	fs.IntVar(&cfg.MaxGlobalConcurrency, "max-global-concurrency", defaultMaxGlobalConcurrency, "global ceiling on simultaneously active calls")
	fs.IntVar(&cfg.MaxPerTenantConcurrency, "max-per-tenant-concurrency", defaultMaxPerTenantConcurrency, "per-tenant ceiling on simultaneously active calls")
	fs.DurationVar(&cfg.OrphanThreshold, "orphan-threshold", defaultOrphanThreshold, "heartbeat age past which a running campaign is eligible for takeover")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", defaultHeartbeatInterval, "interval between a runner's own heartbeats")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", defaultSweepInterval, "interval between orphan-detector sweeps")
	fs.DurationVar(&cfg.BackpressureSleep, "backpressure-sleep", defaultBackpressureSleep, "sleep applied when concurrency admission is full before retrying")
	fs.DurationVar(&cfg.InterCallPacing, "inter-call-pacing", defaultInterCallPacing, "minimum delay between successive dials within one campaign")
	fs.IntVar(&cfg.ProviderRetryMax, "provider-retry-max", defaultProviderRetryMax, "retries budgeted for a transient provider failure before advancing past a contact")
	fs.IntVar(&cfg.ContactPageSize, "contact-page-size", defaultContactPageSize, "number of contacts a runner pages at a time")
	fs.Int64Var(&cfg.LowBalanceThreshold, "low-balance-threshold", defaultLowBalanceThreshold, "tenant balance, in credits, at or below which a low-balance alert fires")

	fs.DurationVar(&cfg.InitiatingTimeout, "initiating-timeout", defaultInitiatingTimeout, "wall-clock timeout for a call stuck in initiating before the reaper marks it timed out")
	fs.DurationVar(&cfg.RingingTimeout, "ringing-timeout", defaultRingingTimeout, "wall-clock timeout for a call stuck in ringing before the reaper marks it timed out")
	fs.DurationVar(&cfg.OngoingTimeout, "ongoing-timeout", defaultOngoingTimeout, "maximum wall-clock duration of an ongoing call before the reaper ends it")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", defaultReapInterval, "interval between timeout-reaper sweeps")

	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "default Twilio account SID used when a tenant has no credential override")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "default Twilio auth token")
	fs.StringVar(&cfg.PlivoAPIKey, "plivo-api-key", "", "default Plivo API key")
	fs.StringVar(&cfg.PlivoAPISecret, "plivo-api-secret", "", "default Plivo API secret")

	fs.StringVar(&cfg.SMTPHost, "smtp-host", "", "SMTP server host for campaign lifecycle notifications")
	fs.StringVar(&cfg.SMTPPort, "smtp-port", "", "SMTP server port")
	fs.StringVar(&cfg.SMTPFrom, "smtp-from", "", "From address for notification emails")
	fs.StringVar(&cfg.SMTPUser, "smtp-user", "", "SMTP auth username")
	fs.StringVar(&cfg.SMTPPass, "smtp-pass", "", "SMTP auth password")
	fs.StringVar(&cfg.SMTPTLS, "smtp-tls", "starttls", "SMTP TLS mode (none, starttls, tls)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	str := func(flagName, envName string, dst *string) {
		if set[flagName] {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + envName); ok && v != "" {
			*dst = v
		}
	}
	intVal := func(flagName, envName string, dst *int) {
		if set[flagName] {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + envName); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	int64Val := func(flagName, envName string, dst *int64) {
		if set[flagName] {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + envName); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	durationVal := func(flagName, envName string, dst *time.Duration) {
		if set[flagName] {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + envName); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("database-url", "DATABASE_URL", &cfg.DatabaseURL)
	intVal("http-port", "HTTP_PORT", &cfg.HTTPPort)
	str("tls-cert", "TLS_CERT", &cfg.TLSCert)
	str("tls-key", "TLS_KEY", &cfg.TLSKey)
	str("log-level", "LOG_LEVEL", &cfg.LogLevel)
	str("log-format", "LOG_FORMAT", &cfg.LogFormat)
	str("cors-origins", "CORS_ORIGINS", &cfg.CORSOrigins)
	str("acme-domain", "ACME_DOMAIN", &cfg.ACMEDomain)
	str("acme-email", "ACME_EMAIL", &cfg.ACMEEmail)

	str("webhook-base-url", "WEBHOOK_BASE_URL", &cfg.WebhookBaseURL)
	str("webhook-secret", "WEBHOOK_SECRET", &cfg.WebhookSecret)
	str("default-provider", "DEFAULT_PROVIDER", &cfg.DefaultProvider)

	intVal("max-global-concurrency", "MAX_GLOBAL_CONCURRENCY", &cfg.MaxGlobalConcurrency)
	intVal("max-per-tenant-concurrency", "MAX_PER_TENANT_CONCURRENCY", &cfg.MaxPerTenantConcurrency)
	durationVal("orphan-threshold", "ORPHAN_THRESHOLD", &cfg.OrphanThreshold)
	durationVal("heartbeat-interval", "HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	durationVal("sweep-interval", "SWEEP_INTERVAL", &cfg.SweepInterval)
	durationVal("backpressure-sleep", "BACKPRESSURE_SLEEP", &cfg.BackpressureSleep)
	durationVal("inter-call-pacing", "INTER_CALL_PACING", &cfg.InterCallPacing)
	intVal("provider-retry-max", "PROVIDER_RETRY_MAX", &cfg.ProviderRetryMax)
	intVal("contact-page-size", "CONTACT_PAGE_SIZE", &cfg.ContactPageSize)
	int64Val("low-balance-threshold", "LOW_BALANCE_THRESHOLD", &cfg.LowBalanceThreshold)

	durationVal("initiating-timeout", "INITIATING_TIMEOUT", &cfg.InitiatingTimeout)
	durationVal("ringing-timeout", "RINGING_TIMEOUT", &cfg.RingingTimeout)
	durationVal("ongoing-timeout", "ONGOING_TIMEOUT", &cfg.OngoingTimeout)
	durationVal("reap-interval", "REAP_INTERVAL", &cfg.ReapInterval)

	str("twilio-account-sid", "TWILIO_ACCOUNT_SID", &cfg.TwilioAccountSID)
	str("twilio-auth-token", "TWILIO_AUTH_TOKEN", &cfg.TwilioAuthToken)
	str("plivo-api-key", "PLIVO_API_KEY", &cfg.PlivoAPIKey)
	str("plivo-api-secret", "PLIVO_API_SECRET", &cfg.PlivoAPISecret)

	str("smtp-host", "SMTP_HOST", &cfg.SMTPHost)
	str("smtp-port", "SMTP_PORT", &cfg.SMTPPort)
	str("smtp-from", "SMTP_FROM", &cfg.SMTPFrom)
	str("smtp-user", "SMTP_USER", &cfg.SMTPUser)
	str("smtp-pass", "SMTP_PASS", &cfg.SMTPPass)
	str("smtp-tls", "SMTP_TLS", &cfg.SMTPTLS)
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must both be provided or both be omitted")
	}
	if c.ACMEDomain != "" && c.TLSCert != "" {
		return fmt.Errorf("acme-domain and tls-cert/tls-key are mutually exclusive")
	}

	switch provider.Name(c.DefaultProvider) {
	case provider.Twilio, provider.Plivo:
	default:
		return fmt.Errorf("default-provider must be one of twilio, plivo; got %q", c.DefaultProvider)
	}

	validSMTPModes := map[string]bool{"none": true, "starttls": true, "tls": true}
	if !validSMTPModes[strings.ToLower(c.SMTPTLS)] {
		return fmt.Errorf("smtp-tls must be one of none, starttls, tls; got %q", c.SMTPTLS)
	}
	c.SMTPTLS = strings.ToLower(c.SMTPTLS)

	if c.OrphanThreshold <= 2*c.HeartbeatInterval {
		return fmt.Errorf("orphan-threshold (%s) must be more than 2x heartbeat-interval (%s)", c.OrphanThreshold, c.HeartbeatInterval)
	}

	return nil
}

// TLSEnabled returns true if either manual TLS certificates or automatic
// ACME (Let's Encrypt) certificates are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" || c.ACMEDomain != ""
}

// WebhookSecretBytes returns the decoded 32-byte HMAC secret used to sign
// webhook callback tokens. If none is configured, it generates a random
// 32-byte key and stores the hex-encoded value back in the config for the
// process lifetime.
func (c *Config) WebhookSecretBytes() ([]byte, error) {
	if c.WebhookSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating webhook secret: %w", err)
		}
		c.WebhookSecret = hex.EncodeToString(key)
		slog.Warn("no webhook-secret configured, generated ephemeral key (in-flight callback tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding webhook secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("webhook secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// DefaultCredentials builds the provider.DefaultCredentials map from the
// configured system-wide Twilio/Plivo credentials, for tenants with no
// override on file.
func (c *Config) DefaultCredentials() provider.DefaultCredentials {
	creds := provider.DefaultCredentials{}
	if c.TwilioAccountSID != "" {
		creds[provider.Twilio] = provider.Credentials{
			AccountSID: c.TwilioAccountSID,
			AuthToken:  c.TwilioAuthToken,
		}
	}
	if c.PlivoAPIKey != "" {
		creds[provider.Plivo] = provider.Credentials{
			APIKey:    c.PlivoAPIKey,
			APISecret: c.PlivoAPISecret,
		}
	}
	return creds
}

// CallStateTimeouts builds the per-state timeout map the reaper sweeps
// against. warming shares initiating's budget since both precede the
// callee ever being dialed.
func (c *Config) CallStateTimeouts() map[models.CallState]time.Duration {
	return map[models.CallState]time.Duration{
		models.CallInitiating: c.InitiatingTimeout,
		models.CallWarming:    c.InitiatingTimeout,
		models.CallRinging:    c.RingingTimeout,
		models.CallOngoing:    c.OngoingTimeout,
	}
}

// SMTPConfig builds the notify package's mail server configuration from
// the configured SMTP settings.
func (c *Config) SMTPConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		From:     c.SMTPFrom,
		Username: c.SMTPUser,
		Password: c.SMTPPass,
		TLS:      c.SMTPTLS,
	}
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
