// Package transport submits messages to the configured SMTP relay.
// The credential is decrypted here, immediately before dialing, and
// nowhere else.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
	"github.com/Raywonder/flexpbx-mailer/internal/secret"
)

// Message is the final content handed to the relay.
type Message struct {
	Recipient string
	Subject   string
	HTML      string
	Text      string
}

// Sender delivers messages through the relay described by a delivery
// configuration.
type Sender struct {
	secrets *secret.Store
	logger  *slog.Logger
}

// NewSender creates a sender that decrypts credentials with the given
// secret store.
func NewSender(secrets *secret.Store, logger *slog.Logger) *Sender {
	return &Sender{secrets: secrets, logger: logger}
}

// Send attempts one delivery, bounded by the configuration's send
// timeout. A timed-out send is abandoned: the underlying dial simply
// keeps running until it errors out on its own, and the item is
// requeued or failed by the caller.
func (s *Sender) Send(ctx context.Context, cfg *models.SMTPConfig, msg *Message) error {
	password := ""
	if cfg.PasswordEnc != "" {
		decrypted, err := s.secrets.Decrypt(cfg.PasswordEnc, cfg.PasswordIV)
		if err != nil {
			return fmt.Errorf("failed to decrypt credential: %w", err)
		}
		password = decrypted
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, password)
	switch cfg.Security {
	case models.SecuritySSL:
		dialer.SSL = true
	case models.SecurityTLS:
		dialer.TLSConfig = &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
	}

	m := buildMessage(cfg, msg)

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- dialer.DialAndSend(m)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Warn("delivery failed",
				"host", cfg.Host,
				"recipient", msg.Recipient,
				"error", err,
			)
			return categorizeError(err, "send failed")
		}
	case <-time.After(timeout):
		s.logger.Warn("delivery timed out",
			"host", cfg.Host,
			"recipient", msg.Recipient,
			"timeout", timeout,
		)
		return &DeliveryError{Permanent: false, Message: fmt.Sprintf("send timed out after %s", timeout)}
	case <-ctx.Done():
		return &DeliveryError{Permanent: false, Message: fmt.Sprintf("send canceled: %v", ctx.Err())}
	}

	s.logger.Info("message delivered",
		"host", cfg.Host,
		"recipient", msg.Recipient,
	)
	return nil
}

func buildMessage(cfg *models.SMTPConfig, msg *Message) *gomail.Message {
	m := gomail.NewMessage()

	if cfg.FromName != "" {
		m.SetHeader("From", m.FormatAddress(cfg.FromAddress, cfg.FromName))
	} else {
		m.SetHeader("From", cfg.FromAddress)
	}
	m.SetHeader("To", msg.Recipient)
	if cfg.ReplyTo != "" {
		m.SetHeader("Reply-To", cfg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	return m
}
