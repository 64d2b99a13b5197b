// Package billing owns invoice lifecycle operations: drafting, sending,
// payment, cancellation and due-date changes. Every status change goes
// through the invoice state machine and a compare-and-set write.
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/channels"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/services/scheduler"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	invoices  repository.InvoiceRepository
	clients   repository.ClientRepository
	reminders repository.ReminderRepository
	scheduler *scheduler.Service
	sender    channels.Sender
	renderer  *channels.Renderer
	audit     audit.Sink
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	invoices repository.InvoiceRepository,
	clients repository.ClientRepository,
	reminders repository.ReminderRepository,
	sched *scheduler.Service,
	sender channels.Sender,
	renderer *channels.Renderer,
	sink audit.Sink,
	log *zap.Logger,
) *Service {
	return &Service{
		invoices:  invoices,
		clients:   clients,
		reminders: reminders,
		scheduler: sched,
		sender:    sender,
		renderer:  renderer,
		audit:     sink,
		log:       log.Named("billing"),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type DraftInput struct {
	ClientID      uuid.UUID
	InvoiceNumber string
	Total         decimal.Decimal
	Currency      string
	DueDate       time.Time
	Notes         string
}

func (in DraftInput) Validate() error {
	if in.ClientID == uuid.Nil {
		return apperr.Validation("client is required")
	}
	if !in.Total.IsPositive() {
		return apperr.Validation("total must be greater than zero")
	}
	if !in.Total.Equal(in.Total.Round(2)) {
		return apperr.Validation("total can have at most two decimal places")
	}
	if in.DueDate.IsZero() {
		return apperr.Validation("due date is required")
	}
	return nil
}

// CreateDraft stores a new draft invoice. A blank number takes the next
// value of the workspace sequence.
func (s *Service) CreateDraft(ctx context.Context, ws *models.Workspace, in DraftInput, actor string) (*models.Invoice, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	client, err := s.clients.GetByID(ctx, ws.ID, in.ClientID)
	if err != nil {
		return nil, err
	}

	number := repository.NormalizeNumber(in.InvoiceNumber)
	if number == "" {
		if number, err = s.invoices.NextInvoiceNumber(ctx, ws.ID); err != nil {
			return nil, err
		}
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = ws.Currency
	}

	inv := &models.Invoice{
		WorkspaceID:   ws.ID,
		ClientID:      client.ID,
		InvoiceNumber: number,
		Total:         in.Total.Round(2),
		Currency:      currency,
		DueDate:       in.DueDate.UTC(),
		Status:        invoice.StatusDraft,
		Notes:         in.Notes,
	}
	created, err := s.invoices.CreateIgnoringDuplicates(ctx, inv)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, apperr.Validationf("invoice %s already exists", number)
	}
	inv.Client = client

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionInvoiceCreated,
		WorkspaceID: ws.ID,
		InvoiceID:   inv.ID,
		Metadata: map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"total":          inv.Total.StringFixed(2),
		},
	})
	return inv, nil
}

func (s *Service) Get(ctx context.Context, workspaceID, id uuid.UUID) (*models.Invoice, error) {
	return s.invoices.GetByID(ctx, workspaceID, id)
}

func (s *Service) GetByNumber(ctx context.Context, workspaceID uuid.UUID, number string) (*models.Invoice, error) {
	return s.invoices.GetByNumber(ctx, workspaceID, number)
}

func (s *Service) List(ctx context.Context, workspaceID uuid.UUID, query string, statuses []invoice.Status) ([]models.Invoice, error) {
	return s.invoices.Search(ctx, workspaceID, query, statuses)
}

// Schedule marks a draft as approved for sending.
func (s *Service) Schedule(ctx context.Context, inv *models.Invoice, actor string) (*models.Invoice, error) {
	res, err := invoice.Transition(inv.Status, invoice.EventSchedule)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if err := s.apply(ctx, inv, res, nil, nil); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionInvoiceScheduled,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
	})
	return inv, nil
}

// Send emails the invoice to the client and moves it to sent. An overdue
// invoice can be resent and stays overdue. Reminders switch on with the
// default cadence the first time an invoice goes out.
func (s *Service) Send(ctx context.Context, ws *models.Workspace, inv *models.Invoice, actor string) (*models.Invoice, error) {
	res, err := invoice.Transition(inv.Status, invoice.EventSend)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	email := channels.Recipient(inv.Client, models.ChannelEmail)
	if email == "" {
		name := "the client"
		if inv.Client != nil && inv.Client.Name != "" {
			name = inv.Client.Name
		}
		return nil, apperr.Validationf("%s has no email address. Add one to the client before sending %s", name, inv.InvoiceNumber)
	}

	now := s.now().UTC()
	msg, err := s.renderer.InvoiceNotice(channels.NewMessageData(ws, inv, now))
	if err != nil {
		return nil, apperr.Infrastructure(err, "render invoice notice")
	}
	if err := s.sender.Send(ctx, models.ChannelEmail, email, msg); err != nil {
		return nil, err
	}

	if err := s.apply(ctx, inv, res, map[string]any{"last_sent_at": now}, nil); err != nil {
		s.log.Warn("invoice emailed but status not updated",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("recipient", email),
			zap.Error(err),
		)
		if apperr.Is(err, apperr.KindConflict) {
			return nil, &apperr.Error{
				Kind:    apperr.KindConflict,
				Message: fmt.Sprintf("invoice %s was emailed to %s but changed meanwhile, its status was not updated", inv.InvoiceNumber, email),
			}
		}
		return nil, err
	}
	inv.LastSentAt = &now

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionInvoiceSent,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
		Metadata:    map[string]any{"recipient": email, "from": string(res.From)},
	})

	if _, err := s.reminders.GetSchedule(ctx, inv.ID); apperr.Is(err, apperr.KindNotFound) {
		if _, err := s.scheduler.Enable(ctx, ws, inv, nil, actor); err != nil {
			s.log.Warn("invoice sent but reminders not enabled",
				zap.String("invoice_id", inv.ID.String()),
				zap.Error(err),
			)
		}
	}
	return inv, nil
}

type PaymentInput struct {
	Amount     decimal.Decimal
	Method     string
	Reference  string
	ReceivedAt time.Time
}

type PaymentResult struct {
	Invoice    *models.Invoice
	NoOp       bool
	IsPartial  bool
	IsOverpaid bool
	Note       string
}

// MarkPaid records a payment and closes the invoice. Paying an invoice that
// is already paid is reported as a no-op and changes nothing.
func (s *Service) MarkPaid(ctx context.Context, inv *models.Invoice, in PaymentInput, actor string) (*PaymentResult, error) {
	res, err := invoice.Transition(inv.Status, invoice.EventMarkPaid)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if res.NoOp {
		return &PaymentResult{Invoice: inv, NoOp: true}, nil
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("payment amount must be greater than zero")
	}
	method := strings.ToLower(strings.TrimSpace(in.Method))
	if method == "" {
		return nil, apperr.Validation("payment method is required")
	}

	now := s.now().UTC()
	received := in.ReceivedAt
	if received.IsZero() {
		received = now
	}
	amount := in.Amount.Round(2)
	out := &PaymentResult{
		Invoice:    inv,
		IsPartial:  amount.LessThan(inv.Total),
		IsOverpaid: amount.GreaterThan(inv.Total),
	}
	out.Note = ledgerNote(now, inv, amount, method, in.Reference, out.IsPartial, out.IsOverpaid)

	notes := out.Note
	if inv.Notes != "" {
		notes = inv.Notes + "\n" + out.Note
	}
	payment := &models.Payment{
		WorkspaceID:     inv.WorkspaceID,
		InvoiceID:       inv.ID,
		Amount:          amount,
		Currency:        inv.Currency,
		Method:          method,
		ReferenceNumber: in.Reference,
		IsPartial:       out.IsPartial,
		IsOverpaid:      out.IsOverpaid,
		RecordedBy:      actor,
		ReceivedAt:      received.UTC(),
	}

	err = s.apply(ctx, inv, res, map[string]any{"notes": notes, "paid_at": now}, payment)
	if apperr.Is(err, apperr.KindConflict) {
		// someone else closed it first; report their outcome
		fresh, gerr := s.invoices.GetByID(ctx, inv.WorkspaceID, inv.ID)
		if gerr == nil && fresh.Status == invoice.StatusPaid {
			return &PaymentResult{Invoice: fresh, NoOp: true}, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	inv.Notes = notes
	inv.PaidAt = &now

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionInvoicePaid,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
		Metadata: map[string]any{
			"amount":      amount.StringFixed(2),
			"method":      method,
			"reference":   in.Reference,
			"is_partial":  out.IsPartial,
			"is_overpaid": out.IsOverpaid,
			"from":        string(res.From),
		},
	})
	return out, nil
}

func ledgerNote(at time.Time, inv *models.Invoice, amount decimal.Decimal, method, reference string, partial, overpaid bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Payment received: %s %s via %s", at.Format(time.RFC3339), inv.Currency, amount.StringFixed(2), method)
	if reference != "" {
		fmt.Fprintf(&b, " (ref: %s)", reference)
	}
	switch {
	case partial:
		fmt.Fprintf(&b, ". Partial payment, %s %s outstanding", inv.Currency, inv.Total.Sub(amount).StringFixed(2))
	case overpaid:
		fmt.Fprintf(&b, ". Overpaid by %s %s", inv.Currency, amount.Sub(inv.Total).StringFixed(2))
	}
	return b.String()
}

func (s *Service) Cancel(ctx context.Context, inv *models.Invoice, actor string) (*models.Invoice, error) {
	res, err := invoice.Transition(inv.Status, invoice.EventCancel)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if err := s.apply(ctx, inv, res, nil, nil); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionInvoiceCancelled,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
		Metadata:    map[string]any{"from": string(res.From)},
	})
	return inv, nil
}

// ChangeDueDate moves the due date and recomputes pending reminder steps.
func (s *Service) ChangeDueDate(ctx context.Context, ws *models.Workspace, inv *models.Invoice, due time.Time, actor string) (int, error) {
	if inv.Status.Terminal() {
		return 0, apperr.Validationf("cannot change the due date of a %s invoice", inv.Status)
	}
	if due.IsZero() {
		return 0, apperr.Validation("due date is required")
	}
	previous := inv.DueDate
	if err := s.invoices.UpdateDueDate(ctx, inv.ID, due); err != nil {
		return 0, err
	}
	inv.DueDate = due.UTC()

	updated, err := s.scheduler.Recompute(ctx, ws, inv)
	if err != nil {
		return 0, err
	}

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionDueDateChanged,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
		Metadata: map[string]any{
			"from":          previous.Format(time.DateOnly),
			"to":            inv.DueDate.Format(time.DateOnly),
			"steps_updated": updated,
		},
	})
	return updated, nil
}

func (s *Service) ReminderStats(ctx context.Context, workspaceID uuid.UUID) (map[invoice.StepStatus]int64, error) {
	return s.reminders.CountByStatus(ctx, workspaceID)
}

// apply writes res; a lost compare-and-set comes back as a conflict.
func (s *Service) apply(ctx context.Context, inv *models.Invoice, res invoice.Result, fields map[string]any, payment *models.Payment) error {
	applied, err := s.invoices.ApplyTransition(ctx, inv, res, fields, payment)
	if err != nil {
		return err
	}
	if !applied {
		return &apperr.Error{
			Kind:    apperr.KindConflict,
			Message: fmt.Sprintf("invoice %s changed while it was being updated, try again", inv.InvoiceNumber),
		}
	}
	inv.Status = res.To
	if invoice.StopsReminders(res.To) {
		inv.RemindersEnabled = false
	}
	return nil
}
