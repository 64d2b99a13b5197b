// Package dispatcher runs reminder passes: it marks overdue invoices,
// claims the reminder steps that are due, sends them and records what
// happened. Passes may overlap; the PENDING->PROCESSING claim makes sure
// each step is sent at most once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/channels"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

type Detail struct {
	StepID        string `json:"stepId"`
	InvoiceID     string `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Channel       string `json:"channel"`
	Outcome       string `json:"outcome"`
	Error         string `json:"error,omitempty"`
}

type Summary struct {
	Checked int      `json:"checked"`
	Sent    int      `json:"sent"`
	Skipped int      `json:"skipped"`
	Errors  int      `json:"errors"`
	Overdue int64    `json:"overdue"`
	Details []Detail `json:"details"`
}

func (s *Summary) merge(o Summary) {
	s.Checked += o.Checked
	s.Sent += o.Sent
	s.Skipped += o.Skipped
	s.Errors += o.Errors
	s.Overdue += o.Overdue
	s.Details = append(s.Details, o.Details...)
}

type Config struct {
	// Concurrency bounds the sends in flight per pass.
	Concurrency int
	// BatchSize caps the steps selected per workspace per pass; 0 means all.
	BatchSize int
}

type Dispatcher struct {
	workspaces repository.WorkspaceRepository
	invoices   repository.InvoiceRepository
	reminders  repository.ReminderRepository
	history    repository.HistoryRepository
	sender     channels.Sender
	renderer   *channels.Renderer
	audit      audit.Sink
	log        *zap.Logger
	cfg        Config
	now        func() time.Time
}

func New(
	workspaces repository.WorkspaceRepository,
	invoices repository.InvoiceRepository,
	reminders repository.ReminderRepository,
	history repository.HistoryRepository,
	sender channels.Sender,
	renderer *channels.Renderer,
	sink audit.Sink,
	log *zap.Logger,
	cfg Config,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Dispatcher{
		workspaces: workspaces,
		invoices:   invoices,
		reminders:  reminders,
		history:    history,
		sender:     sender,
		renderer:   renderer,
		audit:      sink,
		log:        log.Named("dispatcher"),
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithClock replaces time.Now; used by tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// RunAll runs one pass for every workspace. A persistence failure in any
// workspace's selection aborts the whole run.
func (d *Dispatcher) RunAll(ctx context.Context) (Summary, error) {
	total := Summary{Details: []Detail{}}
	workspaces, err := d.workspaces.List(ctx)
	if err != nil {
		return total, err
	}
	for i := range workspaces {
		s, err := d.run(ctx, &workspaces[i])
		if err != nil {
			return total, err
		}
		total.merge(s)
	}
	return total, nil
}

// Run runs one pass for a single workspace.
func (d *Dispatcher) Run(ctx context.Context, workspaceID uuid.UUID) (Summary, error) {
	ws, err := d.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return Summary{Details: []Detail{}}, err
	}
	return d.run(ctx, ws)
}

func (d *Dispatcher) run(ctx context.Context, ws *models.Workspace) (Summary, error) {
	summary := Summary{Details: []Detail{}}
	now := d.now().UTC()

	overdue, err := d.invoices.MarkOverdue(ctx, ws.ID, now)
	if err != nil {
		return summary, fmt.Errorf("overdue sweep: %w", err)
	}
	summary.Overdue = overdue
	if overdue > 0 {
		d.audit.Record(ctx, audit.Event{
			Actor:       audit.ActorDispatcher,
			Action:      audit.ActionInvoiceOverdue,
			WorkspaceID: ws.ID,
			Metadata:    map[string]any{"count": overdue},
		})
	}

	steps, err := d.reminders.FindDue(ctx, ws.ID, now, d.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("select due steps: %w", err)
	}
	summary.Checked = len(steps)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for i := range steps {
		step := steps[i]
		g.Go(func() error {
			res := d.process(gctx, ws, &step, now)
			mu.Lock()
			defer mu.Unlock()
			switch res.Outcome {
			case OutcomeSent:
				summary.Sent++
			case OutcomeSkipped, OutcomeCancelled:
				summary.Skipped++
			default:
				summary.Errors++
			}
			if res.Outcome != "" && res.StepID != "" {
				summary.Details = append(summary.Details, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	d.log.Info("reminder pass finished",
		zap.String("workspace_id", ws.ID.String()),
		zap.Int("checked", summary.Checked),
		zap.Int("sent", summary.Sent),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Int64("overdue", summary.Overdue),
	)
	return summary, nil
}

// process handles one claimed step. A lost claim is reported as a skip
// without a detail entry.
func (d *Dispatcher) process(ctx context.Context, ws *models.Workspace, step *models.ReminderStep, now time.Time) Detail {
	detail := Detail{
		StepID:    step.ID.String(),
		InvoiceID: step.InvoiceID.String(),
		Channel:   string(step.Channel),
	}

	if err := d.reminders.Claim(ctx, step.ID); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Detail{Outcome: OutcomeSkipped}
		}
		detail.Outcome = OutcomeError
		detail.Error = apperr.UserMessage(err)
		d.log.Error("claim failed", zap.String("step_id", step.ID.String()), zap.Error(err))
		return detail
	}

	inv, err := d.invoices.GetByID(ctx, ws.ID, step.InvoiceID)
	if err != nil {
		d.finish(ctx, step, invoice.StepFailed, err.Error())
		d.recordHistory(ctx, step, step.Channel, "", models.OutcomeFailed, err.Error())
		detail.Outcome = OutcomeError
		detail.Error = apperr.UserMessage(err)
		return detail
	}
	detail.InvoiceNumber = inv.InvoiceNumber

	// The invoice may have been paid or cancelled after selection.
	if !inv.Status.InCadence() || !inv.RemindersEnabled {
		d.finish(ctx, step, invoice.StepCancelled, fmt.Sprintf("invoice is %s", inv.Status))
		detail.Outcome = OutcomeCancelled
		return detail
	}

	data := channels.NewMessageData(ws, inv, now)
	msg, err := d.renderer.Reminder(step.Tone, data)
	if err != nil {
		d.finish(ctx, step, invoice.StepFailed, err.Error())
		d.recordHistory(ctx, step, step.Channel, "", models.OutcomeFailed, err.Error())
		detail.Outcome = OutcomeFailed
		detail.Error = err.Error()
		return detail
	}

	var (
		delivered []models.Channel
		missing   []models.Channel
		sendErr   error
	)
	for _, target := range step.Channel.Targets() {
		recipient := channels.Recipient(inv.Client, target)
		if recipient == "" {
			missing = append(missing, target)
			continue
		}
		if err := d.sender.Send(ctx, target, recipient, msg); err != nil {
			sendErr = multierr.Append(sendErr, err)
			d.recordHistory(ctx, step, target, recipient, models.OutcomeFailed, err.Error())
			continue
		}
		delivered = append(delivered, target)
		d.recordHistory(ctx, step, target, recipient, models.OutcomeSent, "")
	}

	switch {
	case len(delivered) > 0:
		fields := map[string]any{"sent_at": now}
		if sendErr != nil {
			fields["last_error"] = sendErr.Error()
		}
		d.advance(ctx, step, invoice.StepSent, fields)
		detail.Outcome = OutcomeSent
		d.auditStep(ctx, audit.ActionReminderSent, inv, step, map[string]any{"channels": delivered})
		if step.NotifyCreator {
			d.notifyOwner(ctx, ws, data, delivered)
		}

	case sendErr != nil:
		d.finish(ctx, step, invoice.StepFailed, sendErr.Error())
		detail.Outcome = OutcomeFailed
		detail.Error = apperr.UserMessage(sendErr)
		d.auditStep(ctx, audit.ActionReminderFailed, inv, step, map[string]any{"error": sendErr.Error()})

	default:
		reason := fmt.Sprintf("client has no %s address", joinChannels(missing))
		d.finish(ctx, step, invoice.StepSkipped, reason)
		d.recordHistory(ctx, step, step.Channel, "", models.OutcomeSkipped, reason)
		detail.Outcome = OutcomeSkipped
		detail.Error = reason
		d.auditStep(ctx, audit.ActionReminderSkipped, inv, step, map[string]any{"reason": reason})
	}
	return detail
}

func (d *Dispatcher) finish(ctx context.Context, step *models.ReminderStep, to invoice.StepStatus, reason string) {
	d.advance(ctx, step, to, map[string]any{"last_error": reason})
}

func (d *Dispatcher) advance(ctx context.Context, step *models.ReminderStep, to invoice.StepStatus, fields map[string]any) {
	ok, err := d.reminders.Advance(context.WithoutCancel(ctx), step.ID, to, fields)
	if err != nil {
		d.log.Error("failed to record step outcome",
			zap.String("step_id", step.ID.String()),
			zap.String("status", string(to)),
			zap.Error(err),
		)
		return
	}
	if !ok {
		// cancelled underneath us by mark-paid or cancel
		d.log.Warn("step moved before outcome was recorded",
			zap.String("step_id", step.ID.String()),
			zap.String("status", string(to)),
		)
	}
}

func (d *Dispatcher) recordHistory(ctx context.Context, step *models.ReminderStep, channel models.Channel, recipient string, outcome models.HistoryOutcome, errMsg string) {
	id := step.ID
	h := &models.ReminderHistory{
		WorkspaceID: step.WorkspaceID,
		InvoiceID:   step.InvoiceID,
		StepID:      &id,
		Channel:     channel,
		Tone:        step.Tone,
		Recipient:   recipient,
		Outcome:     outcome,
		Error:       errMsg,
		Trigger:     audit.ActorDispatcher,
	}
	if err := d.history.Append(context.WithoutCancel(ctx), h); err != nil {
		d.log.Error("failed to append reminder history", zap.String("step_id", step.ID.String()), zap.Error(err))
	}
}

func (d *Dispatcher) auditStep(ctx context.Context, action string, inv *models.Invoice, step *models.ReminderStep, meta map[string]any) {
	meta["step_id"] = step.ID.String()
	meta["step_index"] = step.Index
	meta["tone"] = step.Tone
	d.audit.Record(ctx, audit.Event{
		Actor:       audit.ActorDispatcher,
		Action:      action,
		WorkspaceID: inv.WorkspaceID,
		InvoiceID:   inv.ID,
		Metadata:    meta,
	})
}

// notifyOwner copies the workspace owner. Failures are logged only.
func (d *Dispatcher) notifyOwner(ctx context.Context, ws *models.Workspace, data channels.MessageData, delivered []models.Channel) {
	if ws.OwnerEmail == "" {
		return
	}
	data.Channel = joinChannels(delivered)
	msg, err := d.renderer.OwnerCopy(data)
	if err == nil {
		err = d.sender.Send(ctx, models.ChannelEmail, ws.OwnerEmail, msg)
	}
	if err != nil {
		d.log.Warn("owner copy not sent", zap.String("workspace_id", ws.ID.String()), zap.Error(err))
	}
}

func joinChannels(chs []models.Channel) string {
	switch len(chs) {
	case 0:
		return ""
	case 1:
		return string(chs[0])
	}
	out := string(chs[0])
	for _, c := range chs[1:] {
		out += " and " + string(c)
	}
	return out
}
