// Package email delivers notifications over SMTP. Unlike the chat channels
// it needs the structured message (for the subject line), so the dispatcher
// attaches it via SetMessage before calling Talk.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"codetraq/internal/storage"
	"codetraq/pkg/logx"
)

type Config struct {
	From     string
	Password string
	Host     string
	Port     int
	SSL      bool // implicit TLS on connect
	StartTLS bool
}

type Talker struct {
	cfg Config
	log logx.Logger

	mu  sync.Mutex
	msg *storage.Message
}

func New(cfg Config, log logx.Logger) (*Talker, error) {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	return &Talker{cfg: cfg, log: log}, nil
}

func (t *Talker) Connect(ctx context.Context) error { return nil }
func (t *Talker) Disconnect()                       {}

// SetMessage attaches the message whose subject the next Talk call uses.
func (t *Talker) SetMessage(m *storage.Message) {
	t.mu.Lock()
	t.msg = m
	t.mu.Unlock()
}

func (t *Talker) Talk(ctx context.Context, handle, body string) bool {
	t.mu.Lock()
	msg := t.msg
	t.mu.Unlock()

	subject := "Revision update"
	if msg != nil && msg.Subject != "" {
		subject = msg.Subject
	}

	if err := t.send(ctx, handle, subject, body); err != nil {
		t.log.Warn("email send failed", logx.String("to", handle), logx.Err(err))
		return false
	}
	return true
}

func (t *Talker) send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprint(t.cfg.Port))

	var (
		conn net.Conn
		err  error
	)
	if t.cfg.SSL {
		d := tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = (&net.Dialer{Timeout: 30 * time.Second}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return err
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if t.cfg.StartTLS && !t.cfg.SSL {
		if err := c.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
			return err
		}
	}
	if t.cfg.Password != "" {
		auth := smtp.PlainAuth("", t.cfg.From, t.cfg.Password, t.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}

	if err := c.Mail(t.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(composeMail(t.cfg.From, to, subject, body))); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func composeMail(from, to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}

// IsInContactList: email needs no prior contact exchange.
func (t *Talker) IsInContactList(ctx context.Context, handle string) bool { return true }

func (t *Talker) AddToContactList(ctx context.Context, handle string) {}

func (t *Talker) RecipientOnline(ctx context.Context, handle string) bool { return true }
