package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type WhatsAppConfig struct {
	APIURL  string
	Token   string
	PhoneID string
}

// WhatsAppTransport posts text messages to the WhatsApp Cloud API.
type WhatsAppTransport struct {
	cfg    WhatsAppConfig
	client *http.Client
}

func NewWhatsAppTransport(cfg WhatsAppConfig, client *http.Client) *WhatsAppTransport {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WhatsAppTransport{cfg: cfg, client: client}
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

func (t *WhatsAppTransport) Deliver(ctx context.Context, recipient string, msg Message) error {
	to := normalisePhone(recipient)
	if to == "" {
		return fmt.Errorf("invalid phone number %q", recipient)
	}

	body := msg.Body
	if msg.Subject != "" {
		body = "*" + msg.Subject + "*\n\n" + msg.Body
	}
	payload, err := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             whatsAppText{Body: body},
	})
	if err != nil {
		return err
	}

	url := strings.TrimRight(t.cfg.APIURL, "/") + "/" + t.cfg.PhoneID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.Token)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// normalisePhone keeps digits only; the Cloud API wants E.164 without '+'.
func normalisePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < 7 {
		return ""
	}
	return b.String()
}
