package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
)

// Extraction is what the model read out of a chat message.
type Extraction struct {
	CustomerName  string
	CustomerEmail string
	InvoiceNumber string
	Total         decimal.Decimal
	Currency      string
	DueDate       time.Time
	Description   string
}

// Extractor turns free text into invoice fields.
type Extractor interface {
	Extract(ctx context.Context, text string, now time.Time) (*Extraction, error)
}

// ErrUnreadable means the text does not describe an invoice. Retrying
// will not help.
var ErrUnreadable = errors.New("could not read an invoice from the message")

type GeminiExtractor struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiExtractor(ctx context.Context, apiKey, modelName string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("extraction: create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	return &GeminiExtractor{client: client, model: model}, nil
}

func (g *GeminiExtractor) Close() error {
	return g.client.Close()
}

const systemPrompt = `You read short chat messages from a freelancer or small business and extract a single invoice.
Reply with one JSON object and nothing else, using exactly these keys:
  "customer_name"  string, the party being billed
  "customer_email" string or "" when not mentioned
  "invoice_number" string or "" when not mentioned
  "total"          string decimal with at most two places, the full amount owed
  "currency"       ISO 4217 code or "" when not mentioned
  "due_date"       YYYY-MM-DD, resolved against the reference date when the message is relative
  "description"    one line describing the work
If the message does not describe something billable, reply {"error": "<short reason>"}.`

type modelReply struct {
	Error         string `json:"error"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	InvoiceNumber string `json:"invoice_number"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	DueDate       string `json:"due_date"`
	Description   string `json:"description"`
}

func (g *GeminiExtractor) Extract(ctx context.Context, text string, now time.Time) (*Extraction, error) {
	prompt := fmt.Sprintf("Reference date: %s\n\nMessage:\n%s", now.Format("2006-01-02"), text)
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: empty model response", ErrUnreadable)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}
	return parseReply(sb.String(), now)
}

// parseReply validates the model's JSON. Anything malformed or incomplete
// is ErrUnreadable.
func parseReply(raw string, now time.Time) (*Extraction, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")

	var r modelReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if r.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnreadable, r.Error)
	}
	if strings.TrimSpace(r.CustomerName) == "" {
		return nil, fmt.Errorf("%w: no customer named", ErrUnreadable)
	}

	total, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(r.Total, ",", "")))
	if err != nil || !total.IsPositive() {
		return nil, fmt.Errorf("%w: no usable total in %q", ErrUnreadable, r.Total)
	}

	due, err := time.Parse("2006-01-02", strings.TrimSpace(r.DueDate))
	if err != nil {
		due = now.UTC().AddDate(0, 0, 30)
		due = time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	}

	return &Extraction{
		CustomerName:  strings.TrimSpace(r.CustomerName),
		CustomerEmail: strings.TrimSpace(r.CustomerEmail),
		InvoiceNumber: strings.TrimSpace(r.InvoiceNumber),
		Total:         total.Round(2),
		Currency:      strings.ToUpper(strings.TrimSpace(r.Currency)),
		DueDate:       due,
		Description:   strings.TrimSpace(r.Description),
	}, nil
}
