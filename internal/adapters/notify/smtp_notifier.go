// Package notify delivers campaign alerts over SMTP.
package notify

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/core"
)

const (
	dialTimeout = 10 * time.Second
	sendTimeout = 30 * time.Second
)

// SMTPNotifier sends alert emails through a relay
type SMTPNotifier struct {
	addr     string
	port     int
	from     string
	username string
	password string
	logger   *zap.Logger
}

func NewSMTPNotifier(addr string, port int, from, username, password string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		addr:     addr,
		port:     port,
		from:     from,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Send delivers one alert and returns the generated message id
func (n *SMTPNotifier) Send(ctx context.Context, alert *core.Alert) (string, error) {
	relayAddr := fmt.Sprintf("%s:%d", n.addr, n.port)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", relayAddr, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to connect to SMTP relay: %w", err)
	}

	deadline := time.Now().Add(sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return "", fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return "", fmt.Errorf("EHLO failed: %w", err)
	}

	if n.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", n.username, n.password)); err != nil {
			return "", fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := c.Mail(n.from, nil); err != nil {
		return "", fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(alert.To, nil); err != nil {
		return "", fmt.Errorf("RCPT TO failed: %w", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), hostname)

	wc, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(buildMessage(messageID, n.from, alert)); err != nil {
		wc.Close()
		return "", fmt.Errorf("failed to send alert data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		n.logger.Warn("QUIT command failed", zap.Error(err))
	}

	return messageID, nil
}

// buildMessage renders a multipart/alternative message with text and HTML
// bodies
func buildMessage(messageID, from string, alert *core.Alert) []byte {
	boundary := strings.ReplaceAll(uuid.New().String(), "-", "")

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + alert.To + "\r\n")
	b.WriteString("Subject: " + alert.Subject + "\r\n")
	b.WriteString("Message-ID: " + messageID + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=\"" + boundary + "\"\r\n")
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(alert.TextBody)
	b.WriteString("\r\n")

	if alert.HTMLBody != "" {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(alert.HTMLBody)
		b.WriteString("\r\n")
	}

	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}
