// Package notify emails tenants when a campaign auto-pauses or reaches a
// terminal state.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/outboundly/campaigns/internal/store/models"
)

// SMTPConfig holds the outgoing mail server configuration.
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
	TLS      string // "none", "starttls", "tls"
}

// Valid reports whether the minimum fields required to send are set.
func (c SMTPConfig) Valid() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

// CampaignNotification describes a campaign-lifecycle alert to email a
// tenant's configured contact address.
type CampaignNotification struct {
	To         string
	CampaignID string
	Name       string
	Reason     string // e.g. "out_of_credit", "completed", "failed"
	Status     models.CampaignStatus
	At         time.Time
}

// Sender emails campaign-lifecycle notifications via SMTP.
type Sender struct {
	logger   *slog.Logger
	dialFunc func(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error)
}

// smtpClient abstracts the methods used from *smtp.Client for testing.
type smtpClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// NewSender creates a new notify Sender.
func NewSender(logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		logger:   logger.With("component", "notify"),
		dialFunc: defaultDial,
	}
}

// SendCampaignNotification emails n.To describing a campaign lifecycle
// event. It is a best-effort side channel: callers should log, not fail,
// on error — a notification failure must never affect campaign state.
func (s *Sender) SendCampaignNotification(ctx context.Context, cfg SMTPConfig, n CampaignNotification) error {
	if !cfg.Valid() {
		return fmt.Errorf("smtp not configured")
	}
	if n.To == "" {
		return fmt.Errorf("no recipient email address")
	}

	msg := buildMessage(cfg, n)
	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	client, err := s.dialFunc(addr, tlsConfig, cfg.TLS)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}

	if strings.EqualFold(cfg.TLS, "starttls") {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(n.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit error (non-fatal)", "error", err)
	}

	s.logger.Info("campaign notification email sent",
		"to", n.To, "campaign_id", n.CampaignID, "status", n.Status, "reason", n.Reason,
	)
	return nil
}

func defaultDial(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error) {
	if strings.EqualFold(tlsMode, "tls") {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, tlsConfig.ServerName)
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	return smtp.NewClient(conn, host)
}

func buildMessage(cfg SMTPConfig, n CampaignNotification) []byte {
	subject := fmt.Sprintf("Campaign %q is now %s", n.Name, n.Status)
	body := fmt.Sprintf(
		"Campaign %s (%s) transitioned to %s.\n\nReason: %s\nAt: %s\n",
		n.Name, n.CampaignID, n.Status, n.Reason, n.At.Format(time.RFC1123Z),
	)

	var buf strings.Builder
	fmt.Fprintf(&buf, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", n.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(body)
	return []byte(buf.String())
}
