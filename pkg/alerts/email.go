package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// EmailNotifier sends alerts over SMTP.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// NewEmailNotifier creates an SMTP email notifier. Username and password
// may be empty for unauthenticated relays.
func NewEmailNotifier(host string, port int, username, password, from string, to []string) *EmailNotifier {
	return &EmailNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send email alert: %w", err)
	}

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	msg := e.buildMessage(alert)

	// net/smtp has no context support; delivery failures surface to the
	// caller, which leaves the alert pending for the next run.
	if err := smtp.SendMail(addr, auth, e.from, e.to, msg); err != nil {
		return fmt.Errorf("send email alert: %w", err)
	}
	return nil
}

func (e *EmailNotifier) buildMessage(alert Alert) []byte {
	subject := fmt.Sprintf("Token usage alert: %s exceeded monthly limit", alert.Deployment)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n", alert.Message)
	fmt.Fprintf(&b, "Deployment: %s\r\n", alert.Deployment)
	fmt.Fprintf(&b, "Month:      %s\r\n", alert.YearMonth)
	fmt.Fprintf(&b, "Usage:      %d\r\n", alert.Usage)
	fmt.Fprintf(&b, "Threshold:  %d\r\n", alert.Threshold)
	return []byte(b.String())
}
