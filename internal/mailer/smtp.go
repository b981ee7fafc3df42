package mailer

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/config"
)

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	cfg    config.SMTP
	logger *zap.SugaredLogger
}

func NewSMTPSender(cfg config.SMTP, logger *zap.SugaredLogger) *SMTPSender {
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) message(msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	// multipart/alternative when both bodies are present
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
	}
	if msg.HTML != "" {
		if msg.Text == "" {
			m.SetBody("text/html", msg.HTML)
		} else {
			m.AddAlternative("text/html", msg.HTML)
		}
	}
	return m
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Pass)
	d.Timeout = s.cfg.Timeout
	d.TLSConfig = &tls.Config{ServerName: s.cfg.Host}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	default:
		// auto: STARTTLS when the server offers it
	}
	return d
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Debugw("smtp send", "host", s.cfg.Host, "port", s.cfg.Port, "to", msg.To, "subject", msg.Subject, "tls_mode", s.cfg.TLSMode)
	if err := s.dialer().DialAndSend(s.message(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
