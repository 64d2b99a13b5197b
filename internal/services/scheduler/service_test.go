package scheduler

import (
	"context"
	"testing"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	svc       *Service
	reminders *repository.GormReminderRepo
	ws        *models.Workspace
	inv       *models.Invoice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop()
	invoices := repository.NewGormInvoiceRepo(db)
	reminders := repository.NewGormReminderRepo(db)
	sink := audit.New(log, repository.NewGormAuditRepo(db))

	ws := testutil.SeedWorkspace(t, db, "America/New_York")
	client := testutil.SeedClient(t, db, ws, "Globex", "ap@globex.test", "")
	inv := testutil.SeedInvoice(t, db, ws, client, "INV-0001", invoice.StatusSent, "250.00",
		time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC))
	inv.RemindersEnabled = false

	return &fixture{
		db:        db,
		svc:       NewService(invoices, reminders, sink, log),
		reminders: reminders,
		ws:        ws,
		inv:       inv,
	}
}

func Test_Enable_CreatesDefaultSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sched, err := f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)

	assert.True(t, sched.Enabled)
	assert.True(t, sched.UseDefaults)
	require.Len(t, sched.Steps, 4)
	for i, st := range sched.Steps {
		assert.Equal(t, i, st.Index)
		assert.Equal(t, invoice.StepPending, st.Status)
		assert.Equal(t, sched.ID, st.ScheduleID)
	}
	assert.True(t, time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC).Equal(sched.Steps[0].SendAt))
	assert.True(t, f.inv.RemindersEnabled)
}

func Test_Enable_RejectsInvalidCustomSteps(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Enable(context.Background(), f.ws, f.inv, []models.CadenceStep{
		{DaysBeforeDue: intPtr(2), DaysAfterDue: intPtr(2)},
	}, "U1")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func Test_Enable_ReplacesOnlyPendingSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sched, err := f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)

	// first default step already went out
	require.NoError(t, f.reminders.Claim(ctx, sched.Steps[0].ID))
	ok, err := f.reminders.Advance(ctx, sched.Steps[0].ID, invoice.StepSent, nil)
	require.NoError(t, err)
	require.True(t, ok)

	sched, err = f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)

	counts := map[invoice.StepStatus]int{}
	for _, st := range sched.Steps {
		counts[st.Status]++
	}
	assert.Equal(t, 1, counts[invoice.StepSent])
	assert.Equal(t, 3, counts[invoice.StepCancelled])
	assert.Equal(t, 3, counts[invoice.StepPending], "the delivered offset is not requeued")
	assert.Equal(t, 6, sched.Steps[len(sched.Steps)-1].Index)
}

func Test_Enable_DoesNotRequeueSkippedOrFailedOffsets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sched, err := f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)
	require.Len(t, sched.Steps, 4)

	require.NoError(t, f.reminders.Claim(ctx, sched.Steps[0].ID))
	ok, err := f.reminders.Advance(ctx, sched.Steps[0].ID, invoice.StepSent, nil)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.reminders.Claim(ctx, sched.Steps[1].ID))
	ok, err = f.reminders.Advance(ctx, sched.Steps[1].ID, invoice.StepFailed, map[string]any{"last_error": "smtp down"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.reminders.Advance(ctx, sched.Steps[2].ID, invoice.StepSkipped, nil)
	require.NoError(t, err)
	require.True(t, ok)

	sched, err = f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)

	counts := map[invoice.StepStatus]int{}
	for _, st := range sched.Steps {
		counts[st.Status]++
	}
	assert.Equal(t, 1, counts[invoice.StepSent])
	assert.Equal(t, 1, counts[invoice.StepFailed])
	assert.Equal(t, 1, counts[invoice.StepSkipped])
	assert.Equal(t, 1, counts[invoice.StepCancelled])
	assert.Equal(t, 1, counts[invoice.StepPending], "only the untouched offset is rebuilt")

	// a second enable rebuilds the cancelled offset's successor, not the cancelled row
	sched, err = f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)
	counts = map[invoice.StepStatus]int{}
	for _, st := range sched.Steps {
		counts[st.Status]++
	}
	assert.Equal(t, 2, counts[invoice.StepCancelled])
	assert.Equal(t, 1, counts[invoice.StepPending])
}

func Test_Enable_TerminalInvoice(t *testing.T) {
	f := newFixture(t)
	f.inv.Status = invoice.StatusPaid

	_, err := f.svc.Enable(context.Background(), f.ws, f.inv, nil, "U1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func Test_Recompute_MovesPendingStepsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sched, err := f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)
	sentAt := sched.Steps[0].SendAt

	require.NoError(t, f.reminders.Claim(ctx, sched.Steps[0].ID))
	_, err = f.reminders.Advance(ctx, sched.Steps[0].ID, invoice.StepFailed, map[string]any{"last_error": "smtp down"})
	require.NoError(t, err)

	f.inv.DueDate = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	updated, err := f.svc.Recompute(ctx, f.ws, f.inv)
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	steps, err := f.reminders.ListSteps(ctx, f.inv.ID)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.True(t, sentAt.Equal(steps[0].SendAt), "failed step keeps its instant")
	assert.Equal(t, invoice.StepFailed, steps[0].Status)
	// April 1 09:00 EDT
	assert.True(t, time.Date(2024, 4, 1, 13, 0, 0, 0, time.UTC).Equal(steps[1].SendAt))
	assert.Equal(t, 1, steps[1].Index)
}

func Test_Recompute_NoSchedule(t *testing.T) {
	f := newFixture(t)

	updated, err := f.svc.Recompute(context.Background(), f.ws, f.inv)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func Test_Resend_AppendsNewPendingStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 20, 15, 0, 0, 0, time.UTC)
	f.svc.WithClock(func() time.Time { return now })

	sched, err := f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)
	failed := sched.Steps[2]

	_, err = f.svc.Resend(ctx, f.inv, failed.ID, "U1")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "pending steps cannot be resent")

	require.NoError(t, f.reminders.Claim(ctx, failed.ID))
	_, err = f.reminders.Advance(ctx, failed.ID, invoice.StepFailed, nil)
	require.NoError(t, err)

	retry, err := f.svc.Resend(ctx, f.inv, failed.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, 4, retry.Index)
	assert.Equal(t, invoice.StepPending, retry.Status)
	assert.True(t, now.Equal(retry.SendAt))
	require.NotNil(t, retry.ResendOf)
	assert.Equal(t, failed.ID, *retry.ResendOf)

	old, err := f.reminders.GetStep(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StepFailed, old.Status)
}

func Test_Disable_KeepsStepsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enable(ctx, f.ws, f.inv, nil, "U1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Disable(ctx, f.inv, "U1"))

	sched, err := f.reminders.GetSchedule(ctx, f.inv.ID)
	require.NoError(t, err)
	assert.False(t, sched.Enabled)
	for _, st := range sched.Steps {
		assert.Equal(t, invoice.StepPending, st.Status)
	}

	due, err := f.reminders.FindDue(ctx, f.ws.ID, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}
