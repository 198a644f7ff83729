package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Email sends plain-text mail through an SMTP relay.
type Email struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
	To       []string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

// NewEmail returns nil when no relay or recipient is configured.
func NewEmail(addr, user, password, from string, to []string) *Email {
	if addr == "" || len(to) == 0 {
		return nil
	}
	if from == "" {
		from = user
	}
	return &Email{
		Addr:     addr,
		Username: user,
		Password: password,
		From:     from,
		To:       to,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, title, text string) error {
	if e == nil {
		return errors.New("email disabled")
	}
	var auth smtp.Auth
	if e.Username != "" {
		host, _, err := net.SplitHostPort(e.Addr)
		if err != nil {
			return fmt.Errorf("smtp addr: %w", err)
		}
		auth = smtp.PlainAuth("", e.Username, e.Password, host)
	}
	msg := e.compose(title, text)
	return runCtx(ctx, func() error {
		if err := e.sendMail(e.Addr, auth, e.From, e.To, msg); err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	})
}

// headerLine keeps a value on one header line.
var headerLine = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func (e *Email) compose(title, text string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", headerLine.Replace(title))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
