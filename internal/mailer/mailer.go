package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/config"
)

// Message is one outgoing e-mail. Either body may be empty.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message. Implementations do not retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New returns an SMTP sender, or a LogSender when no SMTP host is configured.
// logBodies is only honoured by the LogSender.
func New(cfg config.SMTP, logBodies bool, logger *zap.SugaredLogger) Sender {
	if cfg.Host == "" {
		logger.Warnw("SMTP_HOST not set; outgoing mail is only logged")
		return &LogSender{logger: logger, LogBodies: logBodies}
	}
	return NewSMTPSender(cfg, logger)
}

// LogSender writes messages to the log instead of delivering them. Used in
// development and when SMTP is not configured. Bodies carry reset and invite
// links, so they are left out unless LogBodies is set.
type LogSender struct {
	logger    *zap.SugaredLogger
	LogBodies bool
}

func NewLogSender(logger *zap.SugaredLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if s.LogBodies {
		s.logger.Infow("mail not delivered (log sender)", "to", msg.To, "subject", msg.Subject, "text", msg.Text)
		return nil
	}
	s.logger.Infow("mail not delivered (log sender)", "to", msg.To, "subject", msg.Subject, "body_bytes", len(msg.Text))
	return nil
}
