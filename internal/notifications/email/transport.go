// Package email provides the SMTP email transport.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/notifications"
	"github.com/google/uuid"
)

// Config holds email transport configuration.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	Timeout      time.Duration
}

// Transport delivers email over SMTP with STARTTLS.
type Transport struct {
	config Config
	auth   smtp.Auth
}

// NewTransport creates an email transport.
func NewTransport(config Config) (*Transport, error) {
	if config.SMTPHost == "" {
		return nil, errors.New("email transport: SMTP host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("email transport: from address is required")
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("email transport configured",
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Transport{config: config, auth: auth}, nil
}

// Kind returns the channel this transport serves.
func (t *Transport) Kind() domain.Channel {
	return domain.ChannelEmail
}

// Send delivers one email. The generated Message-ID header doubles as
// the provider receipt, since plain SMTP returns none.
func (t *Transport) Send(ctx context.Context, msg notifications.Message) (notifications.Receipt, error) {
	messageID := t.newMessageID()

	raw := t.buildMessage(messageID, msg)
	if err := t.sendWithSTARTTLS(ctx, []string{msg.To}, raw); err != nil {
		return notifications.Receipt{}, err
	}

	return notifications.Receipt{ProviderMessageID: messageID}, nil
}

func (t *Transport) newMessageID() string {
	domainPart := extractEmail(t.config.FromAddress)
	if at := strings.LastIndex(domainPart, "@"); at != -1 {
		domainPart = domainPart[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domainPart)
}

// buildMessage constructs the email with headers in deterministic order.
func (t *Transport) buildMessage(messageID string, msg notifications.Message) []byte {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", t.config.FromAddress))
	b.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	b.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return []byte(b.String())
}

// sendWithSTARTTLS sends an email using STARTTLS (port 587).
func (t *Transport) sendWithSTARTTLS(ctx context.Context, recipients []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", t.config.SMTPHost, t.config.SMTPPort)

	dialer := &net.Dialer{Timeout: t.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, t.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: t.config.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if t.auth != nil {
		if err := client.Auth(t.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	from := extractEmail(t.config.FromAddress)
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}
