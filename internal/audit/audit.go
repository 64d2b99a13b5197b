// Package audit records who did what to which invoice. Recording never
// fails from the caller's point of view: backend errors are logged and
// dropped.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ActionInvoiceCreated      = "invoice.created"
	ActionInvoiceScheduled    = "invoice.scheduled"
	ActionInvoiceSent         = "invoice.sent"
	ActionInvoicePaid         = "invoice.paid"
	ActionInvoiceCancelled    = "invoice.cancelled"
	ActionInvoiceOverdue      = "invoice.overdue"
	ActionDueDateChanged      = "invoice.due_date_changed"
	ActionRemindersEnabled    = "reminders.enabled"
	ActionRemindersDisabled   = "reminders.disabled"
	ActionReminderSent        = "reminder.sent"
	ActionReminderFailed      = "reminder.failed"
	ActionReminderSkipped     = "reminder.skipped"
	ActionReminderResent      = "reminder.resend_queued"
	ActionDraftApprovalSent   = "draft_approval.sent"
	ActionCommandReceived     = "command.received"
	ActionImportCompleted     = "import.completed"
	ActionImportFailed        = "import.failed"
	ActorSystem               = "system"
	ActorDispatcher           = "dispatcher"
	ActorDraftApprovalTrigger = "draft_approval"
)

type Event struct {
	Actor       string
	Action      string
	WorkspaceID uuid.UUID
	InvoiceID   uuid.UUID
	Metadata    map[string]any
	At          time.Time
}

type Sink interface {
	Record(ctx context.Context, ev Event)
}

// New fans events out to the structured log and the audit_logs table.
func New(log *zap.Logger, repo repository.AuditRepository) Sink {
	return Multi{NewLogSink(log), NewStoreSink(repo, log)}
}

type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, s := range m {
		s.Record(ctx, ev)
	}
}

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("actor", ev.Actor),
		zap.String("action", ev.Action),
	}
	if ev.WorkspaceID != uuid.Nil {
		fields = append(fields, zap.String("workspace_id", ev.WorkspaceID.String()))
	}
	if ev.InvoiceID != uuid.Nil {
		fields = append(fields, zap.String("invoice_id", ev.InvoiceID.String()))
	}
	if len(ev.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", ev.Metadata))
	}
	s.log.Info("audit", fields...)
}

type StoreSink struct {
	repo repository.AuditRepository
	log  *zap.Logger
}

func NewStoreSink(repo repository.AuditRepository, log *zap.Logger) *StoreSink {
	return &StoreSink{repo: repo, log: log}
}

func (s *StoreSink) Record(ctx context.Context, ev Event) {
	entry := &models.AuditLog{
		Actor:  ev.Actor,
		Action: ev.Action,
	}
	if ev.WorkspaceID != uuid.Nil {
		ws := ev.WorkspaceID
		entry.WorkspaceID = &ws
	}
	if ev.InvoiceID != uuid.Nil {
		inv := ev.InvoiceID
		entry.InvoiceID = &inv
	}
	if !ev.At.IsZero() {
		entry.CreatedAt = ev.At.UTC()
	}
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			s.log.Warn("audit metadata not serialisable", zap.String("action", ev.Action), zap.Error(err))
		} else {
			entry.Metadata = raw
		}
	}

	// Detached so a cancelled request still leaves its trail.
	if err := s.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Error("failed to persist audit event",
			zap.String("action", ev.Action),
			zap.Error(err),
		)
	}
}
