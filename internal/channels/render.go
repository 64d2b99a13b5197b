package channels

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"invoice-automation-backend/internal/models"
)

// MessageData is what every template sees.
type MessageData struct {
	WorkspaceName string
	OwnerName     string
	ClientName    string
	InvoiceNumber string
	Amount        string
	Currency      string
	DueDate       string
	DaysOverdue   int
	DaysUntilDue  int
	Urgency       string
	Channel       string
}

// NewMessageData formats inv for templates, dates in the workspace zone.
func NewMessageData(ws *models.Workspace, inv *models.Invoice, now time.Time) MessageData {
	d := MessageData{
		InvoiceNumber: inv.InvoiceNumber,
		Amount:        inv.Total.StringFixed(2),
		Currency:      inv.Currency,
		DueDate:       inv.DueDate.UTC().Format("2 Jan 2006"),
	}
	if ws != nil {
		d.WorkspaceName = ws.Name
		d.OwnerName = ws.OwnerName
		if d.Currency == "" {
			d.Currency = ws.Currency
		}
	}
	if inv.Client != nil {
		d.ClientName = inv.Client.Name
	}
	if late := int(now.Sub(inv.DueDate).Hours() / 24); late > 0 {
		d.DaysOverdue = late
	}
	return d
}

type tmplPair struct {
	subject *template.Template
	body    *template.Template
}

// Renderer holds the parsed reminder and notice templates.
type Renderer struct {
	tones  map[string]tmplPair
	notice tmplPair
	draft  tmplPair
	owner  tmplPair
}

func must(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

func NewRenderer() *Renderer {
	return &Renderer{
		tones: map[string]tmplPair{
			"gentle": {
				subject: must("gentle.subject", `Friendly reminder: invoice {{.InvoiceNumber}}`),
				body: must("gentle.body", `Hi {{if .ClientName}}{{.ClientName}}{{else}}there{{end}},

Just a friendly reminder that invoice {{.InvoiceNumber}} for {{.Currency}} {{.Amount}} is due on {{.DueDate}}.
{{if gt .DaysOverdue 0}}It is now {{.DaysOverdue}} day(s) past due.
{{end}}
Thank you,
{{.OwnerName}}
{{.WorkspaceName}}`),
			},
			"firm": {
				subject: must("firm.subject", `Payment overdue: invoice {{.InvoiceNumber}}`),
				body: must("firm.body", `Hello {{if .ClientName}}{{.ClientName}}{{else}}there{{end}},

Invoice {{.InvoiceNumber}} for {{.Currency}} {{.Amount}} was due on {{.DueDate}}{{if gt .DaysOverdue 0}} and is {{.DaysOverdue}} day(s) overdue{{end}}.
Please arrange payment at your earliest convenience, or reply if there is an issue with the invoice.

Regards,
{{.OwnerName}}
{{.WorkspaceName}}`),
			},
			"final": {
				subject: must("final.subject", `Final notice: invoice {{.InvoiceNumber}}`),
				body: must("final.body", `Hello {{if .ClientName}}{{.ClientName}}{{else}}there{{end}},

This is a final notice for invoice {{.InvoiceNumber}} ({{.Currency}} {{.Amount}}), due {{.DueDate}}.
Please settle the balance immediately to avoid further action.

{{.OwnerName}}
{{.WorkspaceName}}`),
			},
		},
		notice: tmplPair{
			subject: must("notice.subject", `Invoice {{.InvoiceNumber}} from {{.WorkspaceName}}`),
			body: must("notice.body", `Hi {{if .ClientName}}{{.ClientName}}{{else}}there{{end}},

Please find invoice {{.InvoiceNumber}} for {{.Currency}} {{.Amount}}, due on {{.DueDate}}.

Thank you for your business,
{{.OwnerName}}
{{.WorkspaceName}}`),
		},
		draft: tmplPair{
			subject: must("draft.subject", `[{{.Urgency}}] Draft invoice {{.InvoiceNumber}} is waiting for approval`),
			body: must("draft.body", `Hi {{.OwnerName}},

Draft invoice {{.InvoiceNumber}}{{if .ClientName}} for {{.ClientName}}{{end}} ({{.Currency}} {{.Amount}}) is due on {{.DueDate}}.
{{if lt .DaysUntilDue 1}}It is already at or past its due date and has not been sent.{{else}}That is {{.DaysUntilDue}} day(s) away and it has not been sent yet.{{end}}

Approve and send it so reminders can start.`),
		},
		owner: tmplPair{
			subject: must("owner.subject", `Reminder sent for invoice {{.InvoiceNumber}}`),
			body: must("owner.body", `A reminder for invoice {{.InvoiceNumber}} ({{.Currency}} {{.Amount}}) was sent to {{if .ClientName}}{{.ClientName}}{{else}}the client{{end}} by {{.Channel}}.`),
		},
	}
}

func (r *Renderer) Reminder(tone string, d MessageData) (Message, error) {
	pair, ok := r.tones[tone]
	if !ok {
		pair = r.tones["gentle"]
	}
	return render(pair, d)
}

func (r *Renderer) InvoiceNotice(d MessageData) (Message, error) {
	return render(r.notice, d)
}

func (r *Renderer) DraftApproval(d MessageData) (Message, error) {
	return render(r.draft, d)
}

func (r *Renderer) OwnerCopy(d MessageData) (Message, error) {
	return render(r.owner, d)
}

func render(p tmplPair, d MessageData) (Message, error) {
	var subj, body bytes.Buffer
	if err := p.subject.Execute(&subj, d); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := p.body.Execute(&body, d); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{Subject: subj.String(), Body: body.String()}, nil
}
