package mailer

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"go.uber.org/zap"

	"bizdir/internal/config"
	"bizdir/internal/util"
)

// Kind selects the outbound email template.
type Kind string

const (
	KindVerification      Kind = "verification"
	KindPasswordReset     Kind = "password_reset"
	KindEmailChange       Kind = "email_change"
	KindDeletionScheduled Kind = "deletion_scheduled"
)

// Mailer delivers transactional email. Callers only observe the final
// success or failure; retry happens inside the implementation.
type Mailer interface {
	Send(ctx context.Context, kind Kind, to string, data map[string]string) error
}

var subjects = map[Kind]string{
	KindVerification:      "Verify your email address",
	KindPasswordReset:     "Reset your password",
	KindEmailChange:       "Confirm your new email address",
	KindDeletionScheduled: "Your account is scheduled for deletion",
}

var bodies = map[Kind]*template.Template{
	KindVerification: template.Must(template.New("verification").Parse(
		"Hello {{.Name}},\r\n\r\n" +
			"Confirm your email address by visiting:\r\n{{.Link}}\r\n\r\n" +
			"The link expires in {{.TTL}}. If you did not sign up, ignore this message.\r\n")),
	KindPasswordReset: template.Must(template.New("password_reset").Parse(
		"Hello,\r\n\r\n" +
			"Reset your password by visiting:\r\n{{.Link}}\r\n\r\n" +
			"The link expires in {{.TTL}}. If you did not request a reset, ignore this message.\r\n")),
	KindEmailChange: template.Must(template.New("email_change").Parse(
		"Hello,\r\n\r\n" +
			"Confirm your new email address by visiting:\r\n{{.Link}}\r\n\r\n" +
			"The link expires in {{.TTL}}. If you did not request this change, ignore this message.\r\n")),
	KindDeletionScheduled: template.Must(template.New("deletion_scheduled").Parse(
		"Hello {{.Name}},\r\n\r\n" +
			"Your account is scheduled for permanent deletion on {{.Date}}.\r\n" +
			"Log in and cancel the request before then to keep your account.\r\n")),
}

// SMTPMailer sends mail over SMTP with a bounded number of attempts and an
// exponential delay between them.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates an SMTP-backed mailer.
func NewSMTPMailer(cfg config.SMTPConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		logger: logger,
		send:   smtp.SendMail,
	}
}

// Send renders the template for kind and delivers it, retrying transient
// failures up to the configured attempt count.
func (m *SMTPMailer) Send(ctx context.Context, kind Kind, to string, data map[string]string) error {
	subject, ok := subjects[kind]
	if !ok {
		return fmt.Errorf("unknown mail kind %q", kind)
	}

	var body bytes.Buffer
	if err := bodies[kind].Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render %s mail: %w", kind, err)
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		m.cfg.From, to, subject, body.String(),
	))

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	attempts := m.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = m.send(addr, auth, m.cfg.From, []string{to}, msg)
		if lastErr == nil {
			m.logger.Debug("mail sent",
				util.String("kind", string(kind)),
				util.String("to", to),
				util.Int("attempt", attempt))
			return nil
		}

		m.logger.Warn("mail send attempt failed",
			util.String("kind", string(kind)),
			util.Int("attempt", attempt),
			util.ErrorField(lastErr))

		if attempt < attempts {
			delay := m.cfg.RetryBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("mail delivery failed after %d attempts: %w", attempts, lastErr)
}
