package notifier

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/mattmezza/callwatch/internal/config"
)

type EmailNotifier struct {
	name   string
	config config.EmailChannelConfig
}

func NewEmailNotifier(name string, cfg config.EmailChannelConfig) (*EmailNotifier, error) {
	if cfg.SMTPHost == "" || cfg.SMTPPort == 0 || cfg.SMTPFrom == "" || len(cfg.SMTPTo) == 0 {
		return nil, fmt.Errorf("email notifier '%s' is missing required configuration (host, port, from, to)", name)
	}
	if cfg.SMTPUsername != "" && cfg.SMTPPassword == "" {
		log.Printf("Warning: Email notifier '%s' has a username but no password (CALLWATCH_SMTP_PASSWORD_* not set). SMTP auth might fail.", name)
	}

	return &EmailNotifier{name: name, config: cfg}, nil
}

func (en *EmailNotifier) Name() string {
	return en.name
}

func (en *EmailNotifier) Send(data NotificationData, templates NotificationTemplates) error {
	body, err := renderTemplate("email_body", templates.NewCallTemplate, data)
	if err != nil {
		return fmt.Errorf("failed to render email template for call '%s': %w", data.CallID, err)
	}
	return en.deliver(buildMessage(en.config.SMTPFrom, en.config.SMTPTo, data.Title(), body))
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// deliver speaks SMTP directly: implicit TLS on port 465, STARTTLS when
// smtp_use_tls is set, plain otherwise.
func (en *EmailNotifier) deliver(msg []byte) error {
	addr := net.JoinHostPort(en.config.SMTPHost, fmt.Sprint(en.config.SMTPPort))
	tlsConfig := &tls.Config{ServerName: en.config.SMTPHost}

	var conn net.Conn
	var err error
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	if en.config.SMTPPort == 465 {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to dial SMTP server %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, en.config.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer client.Close()

	if en.config.SMTPUseTLS && en.config.SMTPPort != 465 {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("SMTP server does not support STARTTLS, but smtp_use_tls was true")
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS with SMTP server: %w", err)
		}
	}

	if en.config.SMTPUsername != "" {
		auth := smtp.PlainAuth("", en.config.SMTPUsername, en.config.SMTPPassword, en.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(en.config.SMTPFrom)); err != nil {
		return fmt.Errorf("SMTP MAIL FROM failed: %w", err)
	}
	for _, rcpt := range en.config.SMTPTo {
		if err := client.Rcpt(extractEmail(rcpt)); err != nil {
			return fmt.Errorf("SMTP RCPT TO failed for %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close email data writer: %w", err)
	}
	return client.Quit()
}

// extractEmail parses "Display Name <email@example.com>" and returns "email@example.com"
func extractEmail(fullEmail string) string {
	start := strings.LastIndex(fullEmail, "<")
	end := strings.LastIndex(fullEmail, ">")
	if start != -1 && end > start {
		return fullEmail[start+1 : end]
	}
	return strings.TrimSpace(fullEmail)
}
