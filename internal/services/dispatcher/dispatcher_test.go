package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/channels"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sent struct {
	channel   models.Channel
	recipient string
	subject   string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sent
	fails map[models.Channel]error
}

func (f *fakeSender) Send(_ context.Context, ch models.Channel, recipient string, msg channels.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fails[ch]; err != nil {
		return err
	}
	f.sent = append(f.sent, sent{ch, recipient, msg.Subject})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var now = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db        *gorm.DB
	d         *Dispatcher
	sender    *fakeSender
	reminders *repository.GormReminderRepo
	history   *repository.GormHistoryRepo
	ws        *models.Workspace
	client    *models.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop()
	sender := &fakeSender{fails: map[models.Channel]error{}}
	reminders := repository.NewGormReminderRepo(db)
	history := repository.NewGormHistoryRepo(db)

	d := New(
		repository.NewGormWorkspaceRepo(db),
		repository.NewGormInvoiceRepo(db),
		reminders,
		history,
		sender,
		channels.NewRenderer(),
		audit.New(log, repository.NewGormAuditRepo(db)),
		log,
		Config{Concurrency: 4},
	).WithClock(func() time.Time { return now })

	ws := testutil.SeedWorkspace(t, db, "UTC")
	client := testutil.SeedClient(t, db, ws, "Globex", "ap@globex.test", "+15550001111")
	return &fixture{db: db, d: d, sender: sender, reminders: reminders, history: history, ws: ws, client: client}
}

func (f *fixture) invoiceWithSteps(t *testing.T, number string, status invoice.Status, channel models.Channel, sendAts ...time.Time) (*models.Invoice, *models.ReminderSchedule) {
	t.Helper()
	inv := testutil.SeedInvoice(t, f.db, f.ws, f.client, number, status, "500.00", now.AddDate(0, 0, -3))
	return inv, testutil.SeedSchedule(t, f.db, inv, channel, sendAts...)
}

func Test_Run_SendsDueStepsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, sched := f.invoiceWithSteps(t, "INV-0001", invoice.StatusOverdue, models.ChannelEmail,
		now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(time.Hour))

	first, err := f.d.Run(ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Checked)
	assert.Equal(t, 2, first.Sent)
	assert.Len(t, first.Details, 2)

	second, err := f.d.Run(ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Checked)
	assert.Equal(t, 0, second.Sent)
	assert.NotNil(t, second.Details)

	assert.Equal(t, 2, f.sender.count())

	steps, err := f.reminders.ListSteps(ctx, sched.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StepSent, steps[0].Status)
	assert.NotNil(t, steps[0].SentAt)
	assert.Equal(t, invoice.StepSent, steps[1].Status)
	assert.Equal(t, invoice.StepPending, steps[2].Status, "future step untouched")
}

func Test_Run_OverlappingPassesNeverDoubleSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []string{"INV-0001", "INV-0002", "INV-0003"} {
		f.invoiceWithSteps(t, n, invoice.StatusSent, models.ChannelEmail, now.Add(-time.Minute), now.Add(-2*time.Minute))
	}

	var wg sync.WaitGroup
	results := make([]Summary, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.d.Run(ctx, f.ws.ID)
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	totalSent := 0
	for _, r := range results {
		totalSent += r.Sent
	}
	assert.Equal(t, 6, totalSent)
	assert.Equal(t, 6, f.sender.count())

	var counts []struct {
		Status invoice.StepStatus
		N      int
	}
	require.NoError(t, f.db.Model(&models.ReminderStep{}).Select("status, COUNT(*) as n").Group("status").Scan(&counts).Error)
	require.Len(t, counts, 1)
	assert.Equal(t, invoice.StepSent, counts[0].Status)
}

func Test_Run_ProviderFailureMarksStepFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.fails[models.ChannelEmail] = errors.New("smtp 421 try later")
	inv, sched := f.invoiceWithSteps(t, "INV-0001", invoice.StatusSent, models.ChannelEmail, now.Add(-time.Minute))

	s, err := f.d.Run(ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Errors)
	require.Len(t, s.Details, 1)
	assert.Equal(t, OutcomeFailed, s.Details[0].Outcome)
	assert.Equal(t, "INV-0001", s.Details[0].InvoiceNumber)

	step, err := f.reminders.GetStep(ctx, sched.Steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StepFailed, step.Status)
	assert.Contains(t, step.LastError, "smtp 421")

	rows, _, _, err := f.history.List(ctx, repository.HistoryFilter{WorkspaceID: f.ws.ID, InvoiceID: &inv.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutcomeFailed, rows[0].Outcome)
	assert.Equal(t, "ap@globex.test", rows[0].Recipient)
}

func Test_Run_MissingRecipientSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.Email = ""
	require.NoError(t, f.db.Save(f.client).Error)
	_, sched := f.invoiceWithSteps(t, "INV-0001", invoice.StatusSent, models.ChannelEmail, now.Add(-time.Minute))

	s, err := f.d.Run(ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 0, f.sender.count())

	step, err := f.reminders.GetStep(ctx, sched.Steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StepSkipped, step.Status)
	assert.Equal(t, "client has no email address", step.LastError)
}

func Test_Run_BothChannelsPartialDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.fails[models.ChannelWhatsApp] = errors.New("recipient not on whatsapp")
	_, sched := f.invoiceWithSteps(t, "INV-0001", invoice.StatusSent, models.ChannelBoth, now.Add(-time.Minute))

	s, err := f.d.Run(ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Sent)

	step, err := f.reminders.GetStep(ctx, sched.Steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StepSent, step.Status)
	assert.Contains(t, step.LastError, "not on whatsapp")
	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, models.ChannelEmail, f.sender.sent[0].channel)
}

func Test_Run_NotifyCreatorCopiesOwner(t *testing.T) {
	f := newFixture(t)
	_, sched := f.invoiceWithSteps(t, "INV-0001", invoice.StatusSent, models.ChannelEmail, now.Add(-time.Minute))
	require.NoError(t, f.db.Model(&models.ReminderStep{}).Where("id = ?", sched.Steps[0].ID).Update("notify_creator", true).Error)

	_, err := f.d.Run(context.Background(), f.ws.ID)
	require.NoError(t, err)

	require.Equal(t, 2, f.sender.count())
	assert.Equal(t, f.ws.OwnerEmail, f.sender.sent[1].recipient)
	assert.Equal(t, "Reminder sent for invoice INV-0001", f.sender.sent[1].subject)
}

func Test_Run_IgnoresInactiveInvoices(t *testing.T) {
	f := newFixture(t)
	f.invoiceWithSteps(t, "INV-PAID", invoice.StatusPaid, models.ChannelEmail, now.Add(-time.Minute))
	inv, _ := f.invoiceWithSteps(t, "INV-OFF", invoice.StatusSent, models.ChannelEmail, now.Add(-time.Minute))
	require.NoError(t, f.db.Model(inv).Update("reminders_enabled", false).Error)

	s, err := f.d.Run(context.Background(), f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Checked)
	assert.Equal(t, 0, f.sender.count())
}

func Test_Process_StaleClaimIsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, sched := f.invoiceWithSteps(t, "INV-0001", invoice.StatusSent, models.ChannelEmail, now.Add(-time.Minute))

	// paid after the step was selected
	require.NoError(t, f.db.Model(inv).Update("status", invoice.StatusPaid).Error)

	res := f.d.process(ctx, f.ws, &sched.Steps[0], now)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, 0, f.sender.count())

	step, err := f.reminders.GetStep(ctx, sched.Steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StepCancelled, step.Status)
}

func Test_Process_LostClaimHasNoDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, sched := f.invoiceWithSteps(t, "INV-0001", invoice.StatusSent, models.ChannelEmail, now.Add(-time.Minute))
	require.NoError(t, f.reminders.Claim(ctx, sched.Steps[0].ID))

	res := f.d.process(ctx, f.ws, &sched.Steps[0], now)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, res.StepID)
	assert.Equal(t, 0, f.sender.count())
}

func Test_Run_OverdueSweep(t *testing.T) {
	f := newFixture(t)
	pastDue := now.AddDate(0, 0, -1)
	testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-LATE", invoice.StatusSent, "10.00", pastDue)
	testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-SCHEDULED", invoice.StatusScheduled, "10.00", pastDue)
	testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-SOON", invoice.StatusSent, "10.00", now.AddDate(0, 0, 1))
	testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-DRAFT", invoice.StatusDraft, "10.00", pastDue)
	testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-PAID", invoice.StatusPaid, "10.00", pastDue)
	testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-CANCELLED", invoice.StatusCancelled, "10.00", pastDue)

	s, err := f.d.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Overdue)

	want := map[string]invoice.Status{
		"INV-LATE":      invoice.StatusOverdue,
		"INV-SCHEDULED": invoice.StatusOverdue,
		"INV-SOON":      invoice.StatusSent,
		"INV-DRAFT":     invoice.StatusDraft,
		"INV-PAID":      invoice.StatusPaid,
		"INV-CANCELLED": invoice.StatusCancelled,
	}
	for number, status := range want {
		var inv models.Invoice
		require.NoError(t, f.db.First(&inv, "invoice_number = ?", number).Error)
		assert.Equal(t, status, inv.Status, number)
	}
}

func Test_Process_UnloadableInvoiceRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, sched := f.invoiceWithSteps(t, "INV-0001", invoice.StatusSent, models.ChannelEmail, now.Add(-time.Minute))
	// the invoice is not visible from this workspace
	other := testutil.SeedWorkspace(t, f.db, "UTC")

	res := f.d.process(ctx, other, &sched.Steps[0], now)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, 0, f.sender.count())

	step, err := f.reminders.GetStep(ctx, sched.Steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StepFailed, step.Status)

	var rows []models.ReminderHistory
	require.NoError(t, f.db.Where("step_id = ?", sched.Steps[0].ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutcomeFailed, rows[0].Outcome)
	assert.Equal(t, f.ws.ID, rows[0].WorkspaceID)
	assert.Contains(t, rows[0].Error, "not found")
}
