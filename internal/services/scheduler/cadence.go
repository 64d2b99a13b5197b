package scheduler

import (
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
)

const (
	// DefaultMinuteOffset fires default reminders at 09:00 local time.
	DefaultMinuteOffset = 9 * 60

	minutesPerDay = 24 * 60
)

func intPtr(v int) *int { return &v }

// DefaultCadence is used when a workspace has no custom default cadence.
func DefaultCadence() []models.CadenceStep {
	return []models.CadenceStep{
		{DaysBeforeDue: intPtr(3), MinuteOffset: DefaultMinuteOffset, Channel: models.ChannelEmail, Tone: "gentle"},
		{DaysAfterDue: intPtr(0), MinuteOffset: DefaultMinuteOffset, Channel: models.ChannelEmail, Tone: "gentle"},
		{DaysAfterDue: intPtr(3), MinuteOffset: DefaultMinuteOffset, Channel: models.ChannelEmail, Tone: "firm"},
		{DaysAfterDue: intPtr(7), MinuteOffset: DefaultMinuteOffset, Channel: models.ChannelBoth, Tone: "final", NotifyCreator: true},
	}
}

// ResolveCadence picks the cadence a schedule that uses defaults follows.
func ResolveCadence(ws *models.Workspace) []models.CadenceStep {
	if ws != nil && len(ws.DefaultCadence) > 0 {
		return ws.DefaultCadence
	}
	return DefaultCadence()
}

// Validate checks a custom cadence. Every step needs exactly one of
// daysBeforeDue and daysAfterDue.
func Validate(steps []models.CadenceStep) error {
	if len(steps) == 0 {
		return apperr.Validation("at least one reminder step is required")
	}
	for i, s := range steps {
		switch {
		case s.DaysBeforeDue != nil && s.DaysAfterDue != nil:
			return apperr.Validationf("step %d: set either daysBeforeDue or daysAfterDue, not both", i+1)
		case s.DaysBeforeDue == nil && s.DaysAfterDue == nil:
			return apperr.Validationf("step %d: one of daysBeforeDue or daysAfterDue is required", i+1)
		case s.DaysBeforeDue != nil && *s.DaysBeforeDue < 0, s.DaysAfterDue != nil && *s.DaysAfterDue < 0:
			return apperr.Validationf("step %d: day counts must not be negative", i+1)
		}
		if s.MinuteOffset < 0 || s.MinuteOffset >= minutesPerDay {
			return apperr.Validationf("step %d: minuteOffset must be between 0 and %d", i+1, minutesPerDay-1)
		}
		if s.Channel != "" && !s.Channel.Valid() {
			return apperr.Validationf("step %d: unknown channel %q", i+1, s.Channel)
		}
	}
	return nil
}

// signedDays is negative before the due date.
func signedDays(daysBefore, daysAfter *int) int {
	if daysBefore != nil {
		return -*daysBefore
	}
	if daysAfter != nil {
		return *daysAfter
	}
	return 0
}

// ComputeSendAt anchors the due date's calendar day at midnight in loc,
// moves it by whole calendar days and adds the minute offset. The result
// is returned in UTC together with the signed offset from the due instant.
func ComputeSendAt(due time.Time, loc *time.Location, daysBefore, daysAfter *int, minuteOffset int) (time.Time, int) {
	if loc == nil {
		loc = time.UTC
	}
	days := signedDays(daysBefore, daysAfter)
	y, m, d := due.UTC().Date()
	local := time.Date(y, m, d, 0, 0, 0, 0, loc).
		AddDate(0, 0, days).
		Add(time.Duration(minuteOffset) * time.Minute)
	return local.UTC(), days*minutesPerDay + minuteOffset
}

// BuildSteps materialises cadence into PENDING steps for inv. Indexes
// start at zero; repositories shift them when appending.
func BuildSteps(inv *models.Invoice, ws *models.Workspace, scheduleID uuid.UUID, cadence []models.CadenceStep) []models.ReminderStep {
	loc := time.UTC
	if ws != nil {
		loc = ws.Location()
	}

	steps := make([]models.ReminderStep, 0, len(cadence))
	for i, c := range cadence {
		sendAt, offset := ComputeSendAt(inv.DueDate, loc, c.DaysBeforeDue, c.DaysAfterDue, c.MinuteOffset)
		channel := c.Channel
		if channel == "" {
			channel = models.ChannelEmail
		}
		tone := c.Tone
		if tone == "" {
			tone = "gentle"
		}
		steps = append(steps, models.ReminderStep{
			ScheduleID:             scheduleID,
			InvoiceID:              inv.ID,
			WorkspaceID:            inv.WorkspaceID,
			Index:                  i,
			DaysBeforeDue:          c.DaysBeforeDue,
			DaysAfterDue:           c.DaysAfterDue,
			MinuteOffset:           c.MinuteOffset,
			OffsetFromDueInMinutes: offset,
			SendAt:                 sendAt,
			Status:                 invoice.StepPending,
			Channel:                channel,
			Tone:                   tone,
			NotifyCreator:          c.NotifyCreator,
		})
	}
	return steps
}
