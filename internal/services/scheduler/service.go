// Package scheduler turns a due date and a reminder cadence into concrete
// reminder steps and keeps their send times in line with the invoice.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service struct {
	invoices  repository.InvoiceRepository
	reminders repository.ReminderRepository
	audit     audit.Sink
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	invoices repository.InvoiceRepository,
	reminders repository.ReminderRepository,
	sink audit.Sink,
	log *zap.Logger,
) *Service {
	return &Service{
		invoices:  invoices,
		reminders: reminders,
		audit:     sink,
		log:       log.Named("scheduler"),
		now:       time.Now,
	}
}

// WithClock replaces time.Now; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enable switches reminders on for inv. An empty custom list follows the
// workspace default cadence. The schedule is created on first use; later
// calls replace its PENDING steps and leave delivered ones untouched.
func (s *Service) Enable(
	ctx context.Context,
	ws *models.Workspace,
	inv *models.Invoice,
	custom []models.CadenceStep,
	actor string,
) (*models.ReminderSchedule, error) {
	if inv.Status.Terminal() {
		return nil, apperr.Validationf("reminders cannot be enabled on a %s invoice", inv.Status)
	}

	useDefaults := len(custom) == 0
	cadence := custom
	if useDefaults {
		cadence = ResolveCadence(ws)
	} else if err := Validate(custom); err != nil {
		return nil, err
	}

	sched, err := s.reminders.GetSchedule(ctx, inv.ID)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		sched = &models.ReminderSchedule{
			InvoiceID:   inv.ID,
			WorkspaceID: inv.WorkspaceID,
			Enabled:     true,
			UseDefaults: useDefaults,
			Steps:       BuildSteps(inv, ws, uuid.Nil, cadence),
		}
		if err := s.reminders.CreateSchedule(ctx, sched); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		steps := withoutDelivered(sched.Steps, BuildSteps(inv, ws, sched.ID, cadence))
		if err := s.reminders.ReplacePendingSteps(ctx, sched, useDefaults, steps); err != nil {
			return nil, err
		}
	}

	if err := s.invoices.SetRemindersEnabled(ctx, inv.ID, true); err != nil {
		return nil, err
	}
	inv.RemindersEnabled = true

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionRemindersEnabled,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
		Metadata: map[string]any{
			"use_defaults": useDefaults,
			"steps":        len(cadence),
		},
	})

	return s.reminders.GetSchedule(ctx, inv.ID)
}

// Disable stops reminders without cancelling steps, so Enable can resume.
func (s *Service) Disable(ctx context.Context, inv *models.Invoice, actor string) error {
	if err := s.reminders.SetScheduleEnabled(ctx, inv.ID, false); err != nil {
		return err
	}
	if err := s.invoices.SetRemindersEnabled(ctx, inv.ID, false); err != nil {
		return err
	}
	inv.RemindersEnabled = false

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionRemindersDisabled,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
	})
	return nil
}

// Recompute moves every PENDING step of inv to the send time its offsets
// give against the current due date. Steps in any other status keep
// theirs. A send time that lands in the past stays eligible for the next
// dispatch pass.
func (s *Service) Recompute(ctx context.Context, ws *models.Workspace, inv *models.Invoice) (int, error) {
	sched, err := s.reminders.GetSchedule(ctx, inv.ID)
	if apperr.Is(err, apperr.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	loc := ws.Location()
	updated := 0
	for _, step := range sched.Steps {
		if step.Status != invoice.StepPending {
			continue
		}
		sendAt, offset := ComputeSendAt(inv.DueDate, loc, step.DaysBeforeDue, step.DaysAfterDue, step.MinuteOffset)
		ok, err := s.reminders.UpdateSendAt(ctx, step.ID, sendAt, offset)
		if err != nil {
			return updated, err
		}
		if ok {
			updated++
		}
	}

	s.log.Debug("recomputed reminder steps",
		zap.String("invoice_id", inv.ID.String()),
		zap.Int("updated", updated),
	)
	return updated, nil
}

// Resend queues a copy of a FAILED step to go out on the next pass. The
// failed step itself is never reopened.
func (s *Service) Resend(ctx context.Context, inv *models.Invoice, stepID uuid.UUID, actor string) (*models.ReminderStep, error) {
	if inv.Status.Terminal() {
		return nil, apperr.Validationf("cannot resend a reminder for a %s invoice", inv.Status)
	}
	step, err := s.reminders.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if step.InvoiceID != inv.ID {
		return nil, apperr.NotFound("reminder step")
	}
	if step.Status != invoice.StepFailed {
		return nil, apperr.Validationf("only failed reminders can be resent, this one is %s", step.Status)
	}

	original := step.ID
	retry := &models.ReminderStep{
		ScheduleID:             step.ScheduleID,
		InvoiceID:              step.InvoiceID,
		WorkspaceID:            step.WorkspaceID,
		DaysBeforeDue:          step.DaysBeforeDue,
		DaysAfterDue:           step.DaysAfterDue,
		MinuteOffset:           step.MinuteOffset,
		OffsetFromDueInMinutes: step.OffsetFromDueInMinutes,
		SendAt:                 s.now().UTC(),
		Status:                 invoice.StepPending,
		Channel:                step.Channel,
		Tone:                   step.Tone,
		NotifyCreator:          step.NotifyCreator,
		ResendOf:               &original,
	}
	if err := s.reminders.AppendStep(ctx, retry); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionReminderResent,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
		Metadata: map[string]any{
			"failed_step": original.String(),
			"new_step":    retry.ID.String(),
		},
	})
	return retry, nil
}

// withoutDelivered drops candidates whose offset already had its turn:
// sent, skipped, failed or in flight. Failed offsets come back only
// through Resend. Pending and cancelled offsets are rebuilt.
func withoutDelivered(existing, candidates []models.ReminderStep) []models.ReminderStep {
	delivered := make(map[string]bool)
	for _, st := range existing {
		switch st.Status {
		case invoice.StepPending, invoice.StepCancelled:
		default:
			delivered[offsetKey(st)] = true
		}
	}
	out := candidates[:0]
	for _, c := range candidates {
		if !delivered[offsetKey(c)] {
			out = append(out, c)
		}
	}
	return out
}

func offsetKey(st models.ReminderStep) string {
	return fmt.Sprintf("%d/%s", st.OffsetFromDueInMinutes, st.Channel)
}
