package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"BidMailer/internal/config"
	"BidMailer/internal/ports"
)

const (
	defaultMaxAttempts = 3
	defaultRetryWait   = time.Second
	dialTimeout        = 30 * time.Second
)

// SMTPMailer delivers plain-text mail over an SMTP relay with bounded
// retries. A nil Send return means the relay accepted the message.
type SMTPMailer struct {
	cfg         config.SMTPConfig
	maxAttempts int
	retryWait   time.Duration
}

var _ ports.DigestMailer = (*SMTPMailer)(nil)

// NewSMTPMailer wires the relay settings.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		cfg:         cfg,
		maxAttempts: defaultMaxAttempts,
		retryWait:   defaultRetryWait,
	}
}

// Send submits one message, retrying transient failures.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if !m.cfg.Configured() {
		return fmt.Errorf("smtp relay is not configured")
	}

	message := buildMessage(m.cfg.From, to, subject, body)
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = m.sendOnce(addr, to, message)
		if lastErr == nil {
			return nil
		}
		if attempt < m.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryWait):
			}
		}
	}
	return fmt.Errorf("send mail after %d attempts: %w", m.maxAttempts, lastErr)
}

func (m *SMTPMailer) sendOnce(addr, to string, message []byte) error {
	client, err := m.dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	// Relays that ignore the configured credentials often also omit the
	// AUTH extension; authenticating against those would hard-fail.
	if ok, _ := client.Extension("AUTH"); ok && m.cfg.User != "" {
		auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return client.Quit()
}

func (m *SMTPMailer) dial(addr string) (*smtp.Client, error) {
	if m.cfg.UseSSL {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, &tls.Config{ServerName: m.cfg.Host})
		if err != nil {
			return nil, fmt.Errorf("dial tls: %w", err)
		}
		client, err := smtp.NewClient(conn, m.cfg.Host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp client: %w", err)
		}
		return client, nil
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	if m.cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return client, nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
