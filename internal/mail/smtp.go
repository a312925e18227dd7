package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	gomail "net/mail"
	gosmtp "net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SMTPConfig captures connection and auth options for the SMTP transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTP delivers messages over SMTP with STARTTLS.
type SMTP struct {
	cfg SMTPConfig
}

var _ Transport = (*SMTP)(nil)

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTP{cfg: cfg}
}

// Send delivers m. Address validation failures are fatal; connection and
// protocol errors surface as-is for Classify to sort out.
func (s *SMTP) Send(ctx context.Context, m *Message) error {
	for _, rcpt := range m.To {
		if _, err := gomail.ParseAddress(rcpt); err != nil {
			return Fatal(errors.Wrapf(err, "invalid recipient %q", rcpt))
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "smtp dial")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	client, err := gosmtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "smtp handshake")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return errors.Wrap(err, "starttls")
		}
	}
	if s.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return errors.Wrap(err, "smtp auth")
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return errors.Wrap(err, "mail from")
	}
	for _, rcpt := range m.To {
		if err := client.Rcpt(rcpt); err != nil {
			return errors.Wrapf(err, "rcpt %s", rcpt)
		}
	}

	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "data")
	}
	if _, err := w.Write(s.render(m)); err != nil {
		w.Close()
		return errors.Wrap(err, "write body")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close data")
	}
	return client.Quit()
}

func (s *SMTP) render(m *Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if m.IdempotencyKey != "" {
		fmt.Fprintf(&b, "X-Idempotency-Key: %s\r\n", m.IdempotencyKey)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
