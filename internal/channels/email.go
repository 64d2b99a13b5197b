package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 30 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds the dial and each SMTP command.
	Timeout time.Duration
}

// SMTPTransport sends plain-text mail.
type SMTPTransport struct {
	cfg  SMTPConfig
	send func(ctx context.Context, m *mail.Msg) error
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	t := &SMTPTransport{cfg: cfg}
	t.send = t.dialAndSend
	return t
}

func (t *SMTPTransport) Deliver(ctx context.Context, recipient string, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(t.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", t.cfg.From, err)
	}
	if err := m.To(recipient); err != nil {
		return fmt.Errorf("invalid email address %q: %w", recipient, err)
	}
	// a subject is one line whatever the invoice or workspace name held
	m.Subject(strings.Join(strings.Fields(msg.Subject), " "))
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := t.send(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", recipient, err)
	}
	return nil
}

func (t *SMTPTransport) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTimeout(t.cfg.Timeout),
	}
	if t.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}

	client, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, m)
}
