package utils

import (
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"leadflow/models"
)

// Mailer is the transport boundary for outbound email. Test sends and
// real sends share the same dial path.
type Mailer interface {
	TestConnection(cfg *models.EmailConfiguration) (bool, string)
	Send(cfg *models.EmailConfiguration, email *models.Email, htmlBody string) error
}

// SMTPMailer delivers through the configuration's SMTP server via gomail
type SMTPMailer struct{}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{}
}

func (m *SMTPMailer) dialer(cfg *models.EmailConfiguration) (*gomail.Dialer, error) {
	password, err := Decrypt(cfg.SMTPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, password)
	// Port 465 style implicit TLS; otherwise gomail negotiates STARTTLS
	// on its own when the server offers it.
	d.SSL = cfg.UseSSL
	return d, nil
}

// TestConnection dials and authenticates without sending anything
func (m *SMTPMailer) TestConnection(cfg *models.EmailConfiguration) (bool, string) {
	d, err := m.dialer(cfg)
	if err != nil {
		return false, err.Error()
	}

	closer, err := d.Dial()
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "535") || strings.Contains(msg, "534") ||
			strings.Contains(strings.ToLower(msg), "auth"):
			return false, "Authentication failed. Check username and password."
		case strings.Contains(msg, "connection refused") ||
			strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "timeout") ||
			strings.Contains(msg, "i/o timeout"):
			return false, "Could not connect to SMTP server. Check host and port."
		default:
			return false, fmt.Sprintf("Connection failed: %s", msg)
		}
	}
	defer closer.Close()

	return true, "Connection successful"
}

// Send delivers one rendered email. htmlBody carries the tracking pixel,
// the stored email keeps the clean rendered body.
func (m *SMTPMailer) Send(cfg *models.EmailConfiguration, email *models.Email, htmlBody string) error {
	d, err := m.dialer(cfg)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email.FromEmail, email.FromName))
	msg.SetHeader("To", email.ToEmail)
	if email.ReplyTo != "" {
		msg.SetHeader("Reply-To", email.ReplyTo)
	}
	if email.MessageID != "" {
		msg.SetHeader("Message-ID", email.MessageID)
	}
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/plain", email.BodyText)
	if htmlBody != "" {
		msg.AddAlternative("text/html", htmlBody)
	}

	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
