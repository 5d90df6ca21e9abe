// Package mailer delivers goSession recovery codes.
//
// [SMTP] sends a plain-text message through an SMTP relay. [Writer] renders the same
// message to an io.Writer and backs the server's --dev mode, where no relay exists.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	goSession "github.com/MrEthical07/goSession"
)

var ErrHeaderInjection = errors.New("mailer: header value contains a line break")

// SMTPConfig addresses the relay. Username may be empty for unauthenticated relays.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	Subject  string `koanf:"subject"`
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP implements goSession.Mailer over net/smtp.
type SMTP struct {
	cfg  SMTPConfig
	send sendFunc
}

var _ goSession.Mailer = (*SMTP)(nil)

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mailer: smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mailer: from address is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "Your password reset code"
	}
	return &SMTP{cfg: cfg, send: smtp.SendMail}, nil
}

// SendRecoveryCode sends code to the recipient. net/smtp has no context support, so
// ctx is only checked before dialing.
func (s *SMTP) SendRecoveryCode(ctx context.Context, to goSession.RecoveryRecipient, code string, validFor time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := render(s.cfg.From, s.cfg.Subject, to, code, validFor)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, s.cfg.From, []string{to.Email}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Writer renders each message to an io.Writer.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	from    string
	subject string
}

var _ goSession.Mailer = (*Writer)(nil)

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, from: "gosession@localhost", subject: "Your password reset code"}
}

func (m *Writer) SendRecoveryCode(ctx context.Context, to goSession.RecoveryRecipient, code string, validFor time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := render(m.from, m.subject, to, code, validFor)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.w.Write(append(msg, '\n')); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func render(from, subject string, to goSession.RecoveryRecipient, code string, validFor time.Duration) ([]byte, error) {
	for _, v := range []string{from, subject, to.Email, to.FirstName} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, ErrHeaderInjection
		}
	}
	if to.Email == "" {
		return nil, errors.New("mailer: recipient address is required")
	}

	name := to.FirstName
	if name == "" {
		name = "there"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", name)
	fmt.Fprintf(&b, "Your password reset code is %s.\r\n", code)
	fmt.Fprintf(&b, "It expires in %s. If you did not ask for it, you can ignore this message.\r\n", humanize(validFor))
	return b.Bytes(), nil
}

func humanize(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return strconv.Itoa(m) + " minutes"
	default:
		return d.String()
	}
}
