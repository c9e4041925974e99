// Package mail delivers one-time codes by email. The SMTP sender is the
// production implementation; the log sender keeps development flows
// testable without an SMTP host.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"strings"
	"time"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender sends a single message. Implementations must respect the context
// deadline; delivery is an upstream call and may not block the request.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes the message to the log instead of delivering it.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("email not delivered (no SMTP host configured)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// SMTPSender delivers mail over a single SMTP relay with STARTTLS when the
// server offers it.
type SMTPSender struct {
	host string
	addr string
	from string
	auth smtp.Auth
}

// NewSenderFromEnv builds an SMTPSender from DEEPGUARD_SMTP_HOST, _PORT,
// _FROM, _USERNAME, and _PASSWORD. Without a host it falls back to the
// LogSender so local runs stay usable.
func NewSenderFromEnv(log *slog.Logger) Sender {
	host := strings.TrimSpace(os.Getenv("DEEPGUARD_SMTP_HOST"))
	if host == "" {
		return LogSender{Log: log}
	}

	port := strings.TrimSpace(os.Getenv("DEEPGUARD_SMTP_PORT"))
	if port == "" {
		port = "587"
	}
	from := strings.TrimSpace(os.Getenv("DEEPGUARD_SMTP_FROM"))
	if from == "" {
		from = "no-reply@deepguard.local"
	}

	var auth smtp.Auth
	if username := strings.TrimSpace(os.Getenv("DEEPGUARD_SMTP_USERNAME")); username != "" {
		auth = smtp.PlainAuth("", username, os.Getenv("DEEPGUARD_SMTP_PASSWORD"), host)
	}

	return &SMTPSender{
		host: host,
		addr: net.JoinHostPort(host, port),
		from: from,
		auth: auth,
	}
}

// Send delivers the message. The connection inherits the context deadline,
// so a stalled relay surfaces as a timeout rather than a hang.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}

	d := net.Dialer{Deadline: deadline}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mail: dial %s: %w", s.addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("mail: handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("mail: starttls: %w", err)
		}
	}
	if s.auth != nil {
		if err := c.Auth(s.auth); err != nil {
			return fmt.Errorf("mail: auth: %w", err)
		}
	}

	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("mail: from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("mail: rcpt: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("mail: data: %w", err)
	}
	raw := "From: " + s.from + "\r\n" +
		"To: " + msg.To + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"\r\n" + msg.Body + "\r\n"
	if _, err := w.Write([]byte(raw)); err != nil {
		return fmt.Errorf("mail: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mail: close: %w", err)
	}
	return c.Quit()
}

// OTPMessage formats the standard code-delivery email.
func OTPMessage(to, purpose, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Your Deep Guard " + purpose + " code",
		Body: fmt.Sprintf(
			"Your Deep Guard %s code is: %s\n\nThis code expires in %d minutes.",
			purpose, code, int(ttl.Minutes()),
		),
	}
}
