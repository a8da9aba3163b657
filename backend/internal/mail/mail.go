// Package mail sends account activation mail.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/user/vitrader/backend/internal/conf"
)

// ErrDisabled is returned by Disabled senders.
var ErrDisabled = errors.New("mail delivery disabled")

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Disabled is used when no SMTP host is configured.
type Disabled struct{}

func (Disabled) Send(context.Context, string, string, string) error { return ErrDisabled }

// New returns an SMTP sender, or Disabled when cfg has no host.
func New(cfg conf.Mail) Sender {
	if cfg.Host == "" {
		return Disabled{}
	}
	return NewSMTP(cfg)
}

// SMTP delivers through a relay with PLAIN auth, upgrading with STARTTLS when
// the server offers it.
type SMTP struct {
	addr string
	from string
	auth smtp.Auth
}

func NewSMTP(cfg conf.Mail) *SMTP {
	s := &SMTP{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from: cfg.From,
	}
	if s.from == "" {
		s.from = cfg.Username
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s
}

func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg := compose(s.from, to, subject, body)

	done := make(chan error, 1)
	go func() { done <- smtp.SendMail(s.addr, s.auth, s.from, []string{to}, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail to %s: %w", to, ctx.Err())
	}
}

func compose(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
