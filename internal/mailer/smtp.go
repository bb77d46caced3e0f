package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// TLS modes
const (
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
	TLSNone     = "none"
)

// SMTPConfig holds the relay settings for SMTPMailer
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLS       string
	HeloName  string
	Timeout   time.Duration
	TLSConfig *tls.Config // optional, defaults to ServerName = Host
}

// SMTPMailer submits messages to an SMTP relay
type SMTPMailer struct {
	cfg    SMTPConfig
	signer *Signer
	logger *slog.Logger
}

// NewSMTPMailer creates a new SMTP mailer. signer may be nil.
func NewSMTPMailer(cfg SMTPConfig, signer *Signer, logger *slog.Logger) *SMTPMailer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	return &SMTPMailer{
		cfg:    cfg,
		signer: signer,
		logger: logger.With("component", "smtp_mailer"),
	}
}

// Send builds, optionally signs and submits the message
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := msg.Build()
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	if m.signer != nil {
		data, err = m.signer.Sign(data)
		if err != nil {
			return err
		}
	}

	c, err := m.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.addr(), err)
	}
	defer c.Close()

	// Abort in-flight commands when the session is cancelled
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.CommandTimeout = m.cfg.Timeout
	c.SubmissionTimeout = m.cfg.Timeout

	if m.cfg.HeloName != "" {
		if err := c.Hello(m.cfg.HeloName); err != nil {
			return fmt.Errorf("HELO failed: %w", err)
		}
	}

	if m.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := c.SendMail(msg.From, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if err := c.Quit(); err != nil {
		m.logger.Debug("QUIT failed", "error", err)
	}

	m.logger.Debug("message submitted",
		"message_id", msg.ID,
		"to", msg.To,
		"size", len(data),
	)

	return nil
}

func (m *SMTPMailer) addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

func (m *SMTPMailer) tlsConfig() *tls.Config {
	if m.cfg.TLSConfig != nil {
		return m.cfg.TLSConfig
	}
	return &tls.Config{ServerName: m.cfg.Host}
}

func (m *SMTPMailer) dial() (*smtp.Client, error) {
	switch m.cfg.TLS {
	case TLSImplicit:
		return smtp.DialTLS(m.addr(), m.tlsConfig())
	case TLSNone:
		return smtp.Dial(m.addr())
	default:
		return smtp.DialStartTLS(m.addr(), m.tlsConfig())
	}
}
