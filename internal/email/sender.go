package email

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"kostfinder/internal/config"
)

// Sender defines the interface for sending emails.
// The rawMessage parameter should contain the full email message, including headers and body, properly formatted.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// Compose renders a plain-text message with all headers, ready for any Sender.
func Compose(from string, to []string, subject, body string) ([]byte, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/plain", body)

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to compose email: %w", err)
	}
	return buf.Bytes(), nil
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	logger *logrus.Logger
}

// NewSMTPSender creates a new SMTPSender. Without an SMTP host it falls back
// to a LoggingSender.
func NewSMTPSender(cfg *config.Config, logger *logrus.Logger) Sender {
	if cfg.SmtpHost == "" {
		logger.Warn("SMTP host not configured, using logging email sender")
		return NewLoggingSender(cfg, logger)
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.SmtpHost, cfg.SmtpPort, cfg.SmtpUsername, cfg.SmtpPassword),
		from:   cfg.SmtpFromAddress,
		logger: logger,
	}
}

// Send sends an email using SMTP.
func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	conn, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("smtp dial error: %w", err)
	}
	defer conn.Close()

	if err := conn.Send(s.from, to, bytes.NewReader(rawMessage)); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("Email sent via SMTP")
	return nil
}

// LoggingSender only logs the email. Useful for development.
type LoggingSender struct {
	from   string
	logger *logrus.Logger
}

// NewLoggingSender creates a LoggingSender.
func NewLoggingSender(cfg *config.Config, logger *logrus.Logger) *LoggingSender {
	return &LoggingSender{from: cfg.SmtpFromAddress, logger: logger}
}

// Send logs the email details instead of sending.
func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	s.logger.WithFields(logrus.Fields{
		"to":      to,
		"from":    s.from,
		"subject": subject,
	}).Info("Email (logged only)\n" + string(rawMessage))
	return nil
}
