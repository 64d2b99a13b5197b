// Package approval nudges workspace owners about draft invoices that are
// getting close to their due date without having been sent.
package approval

import (
	"context"
	"math"
	"slices"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/channels"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	UrgencyOverdue  = "overdue"
	UrgencyUrgent   = "urgent"
	UrgencySoon     = "soon"
	UrgencyUpcoming = "upcoming"
)

var DefaultOffsets = []int{7, 3, 1}

// DaysUntilDue rounds up, so anything due later today counts as 1 and
// anything already past counts as 0 or less.
func DaysUntilDue(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

func Urgency(daysUntilDue int) string {
	switch {
	case daysUntilDue <= 0:
		return UrgencyOverdue
	case daysUntilDue <= 1:
		return UrgencyUrgent
	case daysUntilDue <= 3:
		return UrgencySoon
	default:
		return UrgencyUpcoming
	}
}

type Request struct {
	DaysBeforeDue []int `json:"daysBeforeDue"`
	ForceAll      bool  `json:"forceAll"`
}

type Detail struct {
	InvoiceID     string `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
	DaysUntilDue  int    `json:"daysUntilDue"`
	Urgency       string `json:"urgency"`
	Outcome       string `json:"outcome"`
	Error         string `json:"error,omitempty"`
}

type Summary struct {
	Checked int      `json:"checked"`
	Sent    int      `json:"sent"`
	Skipped int      `json:"skipped"`
	Errors  int      `json:"errors"`
	Details []Detail `json:"details"`
}

type AtRisk struct {
	InvoiceID     string    `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	ClientName    string    `json:"clientName"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency"`
	DueDate       time.Time `json:"dueDate"`
	DaysUntilDue  int       `json:"daysUntilDue"`
	Urgency       string    `json:"urgency"`
}

type Notifier struct {
	workspaces repository.WorkspaceRepository
	invoices   repository.InvoiceRepository
	notices    repository.NoticeRepository
	sender     channels.Sender
	renderer   *channels.Renderer
	audit      audit.Sink
	log        *zap.Logger
	offsets    []int
	now        func() time.Time
}

func NewNotifier(
	workspaces repository.WorkspaceRepository,
	invoices repository.InvoiceRepository,
	notices repository.NoticeRepository,
	sender channels.Sender,
	renderer *channels.Renderer,
	sink audit.Sink,
	log *zap.Logger,
	offsets []int,
) *Notifier {
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	return &Notifier{
		workspaces: workspaces,
		invoices:   invoices,
		notices:    notices,
		sender:     sender,
		renderer:   renderer,
		audit:      sink,
		log:        log.Named("approval"),
		offsets:    offsets,
		now:        time.Now,
	}
}

func (n *Notifier) WithClock(now func() time.Time) *Notifier {
	n.now = now
	return n
}

// Run checks the drafts of one workspace, or of all when workspaceID is nil.
func (n *Notifier) Run(ctx context.Context, workspaceID *uuid.UUID, req Request) (Summary, error) {
	offsets := req.DaysBeforeDue
	if len(offsets) == 0 {
		offsets = n.offsets
	}
	for _, o := range offsets {
		if o < 0 {
			return Summary{}, apperr.Validation("daysBeforeDue values must not be negative")
		}
	}

	workspaces, err := n.targets(ctx, workspaceID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Details: []Detail{}}
	for i := range workspaces {
		if err := n.runWorkspace(ctx, &workspaces[i], offsets, req.ForceAll, &summary); err != nil {
			return summary, err
		}
	}

	n.log.Info("draft approval pass finished",
		zap.Int("checked", summary.Checked),
		zap.Int("sent", summary.Sent),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Bool("force_all", req.ForceAll),
	)
	return summary, nil
}

func (n *Notifier) runWorkspace(ctx context.Context, ws *models.Workspace, offsets []int, forceAll bool, summary *Summary) error {
	now := n.now().UTC()
	drafts, err := n.invoices.ListDrafts(ctx, ws.ID, nil)
	if err != nil {
		return err
	}

	for i := range drafts {
		inv := &drafts[i]
		summary.Checked++
		days := DaysUntilDue(inv.DueDate, now)
		detail := Detail{
			InvoiceID:     inv.ID.String(),
			InvoiceNumber: inv.InvoiceNumber,
			DaysUntilDue:  days,
			Urgency:       Urgency(days),
		}

		if !forceAll && !slices.Contains(offsets, days) {
			continue
		}
		if ws.OwnerEmail == "" {
			summary.Skipped++
			detail.Outcome = "skipped"
			detail.Error = "workspace owner has no email address"
			summary.Details = append(summary.Details, detail)
			continue
		}

		if !forceAll {
			claimed, err := n.notices.Claim(ctx, &models.DraftApprovalNotice{
				WorkspaceID:  ws.ID,
				InvoiceID:    inv.ID,
				DaysUntilDue: days,
				Urgency:      detail.Urgency,
			})
			if err != nil {
				summary.Errors++
				detail.Outcome = "error"
				detail.Error = apperr.UserMessage(err)
				summary.Details = append(summary.Details, detail)
				continue
			}
			if !claimed {
				summary.Skipped++
				detail.Outcome = "skipped"
				detail.Error = "already notified"
				summary.Details = append(summary.Details, detail)
				continue
			}
		}

		if err := n.send(ctx, ws, inv, detail, now); err != nil {
			if !forceAll {
				if rerr := n.notices.Release(context.WithoutCancel(ctx), inv.ID, days); rerr != nil {
					n.log.Error("failed to release draft approval claim", zap.String("invoice_id", inv.ID.String()), zap.Error(rerr))
				}
			}
			summary.Errors++
			detail.Outcome = "error"
			detail.Error = apperr.UserMessage(err)
			summary.Details = append(summary.Details, detail)
			continue
		}

		summary.Sent++
		detail.Outcome = "sent"
		summary.Details = append(summary.Details, detail)
		n.audit.Record(ctx, audit.Event{
			Actor:       audit.ActorDraftApprovalTrigger,
			Action:      audit.ActionDraftApprovalSent,
			WorkspaceID: ws.ID,
			InvoiceID:   inv.ID,
			Metadata: map[string]any{
				"days_until_due": days,
				"urgency":        detail.Urgency,
				"forced":         forceAll,
			},
		})
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, ws *models.Workspace, inv *models.Invoice, d Detail, now time.Time) error {
	data := channels.NewMessageData(ws, inv, now)
	data.DaysUntilDue = d.DaysUntilDue
	data.Urgency = d.Urgency
	msg, err := n.renderer.DraftApproval(data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, models.ChannelEmail, ws.OwnerEmail, msg)
}

// ListAtRisk returns drafts due within the largest offset, or already
// past due, without sending anything.
func (n *Notifier) ListAtRisk(ctx context.Context, workspaceID *uuid.UUID) ([]AtRisk, error) {
	workspaces, err := n.targets(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	now := n.now().UTC()
	horizon := now.AddDate(0, 0, slices.Max(n.offsets))

	out := []AtRisk{}
	for _, ws := range workspaces {
		drafts, err := n.invoices.ListDrafts(ctx, ws.ID, &horizon)
		if err != nil {
			return nil, err
		}
		for _, inv := range drafts {
			days := DaysUntilDue(inv.DueDate, now)
			item := AtRisk{
				InvoiceID:     inv.ID.String(),
				InvoiceNumber: inv.InvoiceNumber,
				Total:         inv.Total.StringFixed(2),
				Currency:      inv.Currency,
				DueDate:       inv.DueDate,
				DaysUntilDue:  days,
				Urgency:       Urgency(days),
			}
			if inv.Client != nil {
				item.ClientName = inv.Client.Name
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func (n *Notifier) targets(ctx context.Context, workspaceID *uuid.UUID) ([]models.Workspace, error) {
	if workspaceID == nil {
		return n.workspaces.List(ctx)
	}
	ws, err := n.workspaces.GetByID(ctx, *workspaceID)
	if err != nil {
		return nil, err
	}
	return []models.Workspace{*ws}, nil
}
