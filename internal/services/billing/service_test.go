package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/channels"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/services/scheduler"
	"invoice-automation-backend/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fakeSender struct {
	recipients []string
	err        error
	// afterSend runs once the message counts as delivered.
	afterSend func()
}

func (f *fakeSender) Send(_ context.Context, _ models.Channel, recipient string, _ channels.Message) error {
	if f.err != nil {
		return apperr.Delivery(f.err, "email delivery failed")
	}
	f.recipients = append(f.recipients, recipient)
	if f.afterSend != nil {
		f.afterSend()
	}
	return nil
}

var now = time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)

type fixture struct {
	db        *gorm.DB
	svc       *Service
	sender    *fakeSender
	reminders *repository.GormReminderRepo
	payments  *repository.GormPaymentRepo
	ws        *models.Workspace
	client    *models.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop()
	invoices := repository.NewGormInvoiceRepo(db)
	reminders := repository.NewGormReminderRepo(db)
	sink := audit.New(log, repository.NewGormAuditRepo(db))
	sender := &fakeSender{}

	sched := scheduler.NewService(invoices, reminders, sink, log)
	svc := NewService(invoices, repository.NewGormClientRepo(db), reminders, sched, sender, channels.NewRenderer(), sink, log).
		WithClock(func() time.Time { return now })

	ws := testutil.SeedWorkspace(t, db, "UTC")
	client := testutil.SeedClient(t, db, ws, "Globex", "ap@globex.test", "")
	return &fixture{
		db:        db,
		svc:       svc,
		sender:    sender,
		reminders: reminders,
		payments:  repository.NewGormPaymentRepo(db),
		ws:        ws,
		client:    client,
	}
}

func (f *fixture) seed(t *testing.T, status invoice.Status) *models.Invoice {
	t.Helper()
	inv := testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-0007", status, "1000.00", now.AddDate(0, 0, 10))
	got, err := f.svc.Get(context.Background(), f.ws.ID, inv.ID)
	require.NoError(t, err)
	return got
}

func Test_CreateDraft_NumbersFromSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := DraftInput{ClientID: f.client.ID, Total: decimal.RequireFromString("99.9"), DueDate: now.AddDate(0, 0, 30)}
	first, err := f.svc.CreateDraft(ctx, f.ws, in, "U1")
	require.NoError(t, err)
	second, err := f.svc.CreateDraft(ctx, f.ws, in, "U1")
	require.NoError(t, err)

	assert.Equal(t, "INV-0001", first.InvoiceNumber)
	assert.Equal(t, "INV-0002", second.InvoiceNumber)
	assert.Equal(t, invoice.StatusDraft, first.Status)
	assert.Equal(t, "USD", first.Currency)

	in.InvoiceNumber = "inv-0001"
	_, err = f.svc.CreateDraft(ctx, f.ws, in, "U1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func Test_CreateDraft_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDraft(ctx, f.ws, DraftInput{ClientID: f.client.ID, Total: decimal.Zero, DueDate: now}, "U1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.CreateDraft(ctx, f.ws, DraftInput{ClientID: f.client.ID, Total: decimal.RequireFromString("1.005"), DueDate: now}, "U1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.CreateDraft(ctx, f.ws, DraftInput{ClientID: f.ws.ID, Total: decimal.NewFromInt(5), DueDate: now}, "U1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func Test_MarkPaid_PartialPaymentNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.StatusSent)
	_, err := f.svc.scheduler.Enable(ctx, f.ws, inv, nil, "U1")
	require.NoError(t, err)

	res, err := f.svc.MarkPaid(ctx, inv, PaymentInput{
		Amount:    decimal.RequireFromString("400"),
		Method:    "Wire",
		Reference: "TX-88",
	}, "U1")
	require.NoError(t, err)

	assert.False(t, res.NoOp)
	assert.True(t, res.IsPartial)
	assert.False(t, res.IsOverpaid)
	assert.Equal(t,
		"[2024-05-02T10:30:00Z] Payment received: USD 400.00 via wire (ref: TX-88). Partial payment, USD 600.00 outstanding",
		res.Note)

	stored, err := f.svc.Get(ctx, f.ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, stored.Status)
	assert.False(t, stored.RemindersEnabled)
	assert.Equal(t, res.Note, stored.Notes)
	require.NotNil(t, stored.PaidAt)

	steps, err := f.reminders.ListSteps(ctx, inv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	for _, st := range steps {
		assert.Equal(t, invoice.StepCancelled, st.Status)
	}

	payments, err := f.payments.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].IsPartial)
	assert.Equal(t, "TX-88", payments[0].ReferenceNumber)
}

func Test_MarkPaid_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.StatusOverdue)

	_, err := f.svc.MarkPaid(ctx, inv, PaymentInput{Amount: decimal.NewFromInt(1200), Method: "card"}, "U1")
	require.NoError(t, err)

	again, err := f.svc.MarkPaid(ctx, inv, PaymentInput{Amount: decimal.NewFromInt(1200), Method: "card"}, "U1")
	require.NoError(t, err)
	assert.True(t, again.NoOp)

	stored, err := f.svc.Get(ctx, f.ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(stored.Notes))
	assert.Contains(t, stored.Notes, "Overpaid by USD 200.00")

	total, err := f.payments.TotalForInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "1200.00", total.StringFixed(2))
}

func Test_MarkPaid_StaleCopyReportsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.StatusSent)
	stale := *inv

	_, err := f.svc.MarkPaid(ctx, inv, PaymentInput{Amount: decimal.NewFromInt(1000), Method: "ach"}, "U1")
	require.NoError(t, err)

	res, err := f.svc.MarkPaid(ctx, &stale, PaymentInput{Amount: decimal.NewFromInt(1000), Method: "ach"}, "U2")
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	payments, err := f.payments.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func Test_MarkPaid_CancelledIsInvalid(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, invoice.StatusCancelled)

	_, err := f.svc.MarkPaid(context.Background(), inv, PaymentInput{Amount: decimal.NewFromInt(1), Method: "cash"}, "U1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func Test_Send_RequiresClientEmail(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, invoice.StatusDraft)
	inv.Client.Email = ""

	_, err := f.svc.Send(context.Background(), f.ws, inv, "U1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, apperr.UserMessage(err), "Globex has no email address")
	assert.Empty(t, f.sender.recipients)
}

func Test_Send_TransitionsAndStartsReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.StatusDraft)

	sent, err := f.svc.Send(ctx, f.ws, inv, "U1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSent, sent.Status)
	assert.Equal(t, []string{"ap@globex.test"}, f.sender.recipients)

	stored, err := f.svc.Get(ctx, f.ws.ID, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSentAt)
	assert.True(t, now.Equal(*stored.LastSentAt))
	assert.True(t, stored.RemindersEnabled)

	sched, err := f.reminders.GetSchedule(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, sched.Steps, 4)
}

func Test_Send_OverdueStaysOverdue(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, invoice.StatusOverdue)

	sent, err := f.svc.Send(context.Background(), f.ws, inv, "U1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusOverdue, sent.Status)
}

func Test_Send_DeliveryFailureLeavesStatus(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")
	inv := f.seed(t, invoice.StatusDraft)

	_, err := f.svc.Send(context.Background(), f.ws, inv, "U1")
	assert.True(t, apperr.Is(err, apperr.KindDelivery))

	stored, err := f.svc.Get(context.Background(), f.ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusDraft, stored.Status)
}

func Test_Send_LostRaceAfterDeliveryIsLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	f.svc.log = zap.New(core)
	inv := f.seed(t, invoice.StatusDraft)

	// someone cancels the invoice while the email is in flight
	f.sender.afterSend = func() {
		require.NoError(t, f.db.Model(&models.Invoice{}).Where("id = ?", inv.ID).
			Update("status", invoice.StatusCancelled).Error)
	}

	_, err := f.svc.Send(ctx, f.ws, inv, "U1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Contains(t, apperr.UserMessage(err), "was emailed to ap@globex.test")
	assert.Equal(t, []string{"ap@globex.test"}, f.sender.recipients)

	entries := logs.FilterMessage("invoice emailed but status not updated").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, inv.ID.String(), fields["invoice_id"])
	assert.Equal(t, "ap@globex.test", fields["recipient"])

	stored, err := f.svc.Get(ctx, f.ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, stored.Status)
	assert.Nil(t, stored.LastSentAt)
}

func Test_Cancel_StopsReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.StatusSent)
	_, err := f.svc.scheduler.Enable(ctx, f.ws, inv, nil, "U1")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, inv, "U1")
	require.NoError(t, err)

	counts, err := f.svc.ReminderStats(ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[invoice.StepCancelled])
	assert.Equal(t, int64(0), counts[invoice.StepPending])

	_, err = f.svc.Cancel(ctx, inv, "U1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func Test_ChangeDueDate_RecomputesSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.StatusSent)
	_, err := f.svc.scheduler.Enable(ctx, f.ws, inv, nil, "U1")
	require.NoError(t, err)

	newDue := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	updated, err := f.svc.ChangeDueDate(ctx, f.ws, inv, newDue, "U1")
	require.NoError(t, err)
	assert.Equal(t, 4, updated)

	steps, err := f.reminders.ListSteps(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 6, 27, 9, 0, 0, 0, time.UTC).Equal(steps[0].SendAt))
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
