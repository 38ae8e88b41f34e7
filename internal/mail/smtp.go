package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string // empty disables AUTH
	Password string
	TLSMode  string // starttls, tls, or plain
	From     string
	Timeout  time.Duration
}

// SMTP sends one message per connection.
type SMTP struct {
	config SMTPConfig
	auth   smtp.Auth
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: Host is required", ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: Port must be between 1 and 65535", ErrInvalidConfig)
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "starttls"
	}
	if cfg.TLSMode != "starttls" && cfg.TLSMode != "tls" && cfg.TLSMode != "plain" {
		return nil, fmt.Errorf("%w: TLSMode must be starttls, tls, or plain", ErrInvalidConfig)
	}
	if !isValidEmail(cfg.From) {
		return nil, fmt.Errorf("%w: From must be a valid email address", ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := &SMTP{config: cfg}
	if cfg.Username != "" {
		client.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return client, nil
}

func (c *SMTP) Send(ctx context.Context, params Params) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if err := params.Validate(); err != nil {
		return err
	}

	message := c.buildMessage(params, time.Now())
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))

	client, err := c.dial(ctx, addr)
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	defer func() { _ = client.Close() }()

	if err := c.transact(client, params.To, message); err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	return nil
}

func (c *SMTP) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: c.config.Timeout}
	tlsConfig := &tls.Config{ServerName: c.config.Host}

	var conn net.Conn
	var err error
	if c.config.TLSMode == "tls" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.config.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if c.config.TLSMode == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return client, nil
}

func (c *SMTP) transact(client *smtp.Client, to string, message []byte) error {
	if c.auth != nil {
		if err := client.Auth(c.auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}
	if err := client.Mail(c.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	// Some servers drop the connection right after DATA; the message is queued.
	_ = client.Quit()
	return nil
}

func (c *SMTP) buildMessage(params Params, now time.Time) []byte {
	tag := strings.ReplaceAll(params.Tag, " ", "_")
	if tag == "" {
		tag = "report"
	}
	headers := [][2]string{
		{"From", c.config.From},
		{"To", params.To},
		{"Subject", params.Subject},
		{"Date", now.Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%d.%s@%s>", now.UnixNano(), tag, c.config.Host)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="UTF-8"`},
	}

	var b strings.Builder
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	b.WriteString(params.HTMLBody)
	return []byte(b.String())
}
