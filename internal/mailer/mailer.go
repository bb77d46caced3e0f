// Package mailer delivers rendered letters over SMTP, through the host
// application bridge, or into the sandbox outbox.
package mailer

import (
	"fmt"
	"log/slog"

	"github.com/iase/mailmerge/internal/config"
)

// New creates the mailer selected by cfg.Mode
func New(cfg *config.MailerConfig, outbox Outbox, logger *slog.Logger) (Mailer, error) {
	switch cfg.Mode {
	case config.MailerSMTP:
		var signer *Signer
		if cfg.DKIM.Enabled {
			s, err := NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
			if err != nil {
				return nil, err
			}
			signer = s
			logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
		}
		return NewSMTPMailer(SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			TLS:      cfg.SMTP.TLS,
			HeloName: cfg.SMTP.HeloName,
			Timeout:  cfg.SMTP.Timeout,
		}, signer, logger), nil

	case config.MailerBridge:
		return NewBridgeMailer(cfg.Bridge.URL, cfg.Bridge.APIKey, cfg.Bridge.Timeout, logger), nil

	case config.MailerSandbox:
		if outbox == nil {
			return nil, fmt.Errorf("sandbox mailer requires an outbox")
		}
		m := NewSandboxMailer(outbox, logger)
		m.SetFailureRate(cfg.Sandbox.FailureRate)
		return m, nil

	default:
		return nil, fmt.Errorf("unknown mailer mode: %s", cfg.Mode)
	}
}
