package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const (
	// EmailSubject is the fixed subject of alert emails.
	EmailSubject = "⚠️ ISP Speed Alert"

	// DefaultSMTPAddr is the local mail relay.
	DefaultSMTPAddr = "localhost:25"

	// DefaultSMTPTimeout bounds the whole SMTP conversation.
	DefaultSMTPTimeout = 10 * time.Second
)

// Mailer submits one plain text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailNotifier sends alerts to one address through a Mailer.
type EmailNotifier struct {
	to     string
	mailer Mailer
}

// NewEmailNotifier returns a notifier for the given address. An empty
// address disables the channel.
func NewEmailNotifier(to string, mailer Mailer) *EmailNotifier {
	return &EmailNotifier{to: to, mailer: mailer}
}

// Channel returns "email".
func (e *EmailNotifier) Channel() string {
	return "email"
}

// Enabled reports whether an address and a mailer are configured.
func (e *EmailNotifier) Enabled() bool {
	return e.to != "" && e.mailer != nil
}

// Notify sends the alert message with the fixed subject.
func (e *EmailNotifier) Notify(ctx context.Context, a Alert) error {
	return e.mailer.Send(ctx, e.to, EmailSubject, a.Message())
}

// SMTPConfig configures an SMTPMailer.
type SMTPConfig struct {
	Addr     string
	From     string
	User     string
	Password string
	Timeout  time.Duration
	// StartTLS upgrades the session before authenticating. Off by default:
	// local relays often offer STARTTLS with a self-signed certificate.
	StartTLS bool
}

// SMTPMailer submits mail to an SMTP relay, by default the local one.
type SMTPMailer struct {
	addr     string
	from     string
	auth     smtp.Auth
	timeout  time.Duration
	startTLS bool
}

// NewSMTPMailer creates a mailer from cfg, filling in defaults.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{
		addr:     cfg.Addr,
		from:     cfg.From,
		timeout:  cfg.Timeout,
		startTLS: cfg.StartTLS,
	}
	if m.addr == "" {
		m.addr = DefaultSMTPAddr
	}
	if m.timeout <= 0 {
		m.timeout = DefaultSMTPTimeout
	}
	if cfg.User != "" || cfg.Password != "" {
		m.auth = smtp.PlainAuth("", cfg.User, cfg.Password, hostOf(m.addr))
	}
	return m
}

// Send delivers one message. When no sender is configured the recipient
// is used as the sender, like a mail sent to oneself.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	from := m.from
	if from == "" {
		from = to
	}

	dialer := net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(m.timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	c, err := smtp.NewClient(conn, hostOf(m.addr))
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake with %s: %w", m.addr, err)
	}
	defer c.Close()

	if m.startTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp STARTTLS: %s does not offer it", m.addr)
		}
		if err := c.StartTLS(&tls.Config{ServerName: hostOf(m.addr)}); err != nil {
			return fmt.Errorf("smtp STARTTLS: %w", err)
		}
	}
	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(buildMessage(from, to, subject, body, time.Now())); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}

// buildMessage renders an RFC 5322 plain text message.
func buildMessage(from, to, subject, body string, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
