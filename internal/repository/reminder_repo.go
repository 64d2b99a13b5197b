package repository

import (
	"context"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReminderRepository interface {
	GetSchedule(ctx context.Context, invoiceID uuid.UUID) (*models.ReminderSchedule, error)
	CreateSchedule(ctx context.Context, sched *models.ReminderSchedule) error
	ReplacePendingSteps(ctx context.Context, sched *models.ReminderSchedule, useDefaults bool, steps []models.ReminderStep) error
	SetScheduleEnabled(ctx context.Context, invoiceID uuid.UUID, enabled bool) error
	UpdateSendAt(ctx context.Context, stepID uuid.UUID, sendAt time.Time, offsetMinutes int) (bool, error)
	CancelOutstanding(ctx context.Context, invoiceID uuid.UUID, reason string) (int64, error)

	FindDue(ctx context.Context, workspaceID uuid.UUID, now time.Time, limit int) ([]models.ReminderStep, error)
	Claim(ctx context.Context, stepID uuid.UUID) error
	Advance(ctx context.Context, stepID uuid.UUID, to invoice.StepStatus, fields map[string]any) (bool, error)
	GetStep(ctx context.Context, stepID uuid.UUID) (*models.ReminderStep, error)
	ListSteps(ctx context.Context, invoiceID uuid.UUID) ([]models.ReminderStep, error)
	AppendStep(ctx context.Context, step *models.ReminderStep) error
	CountByStatus(ctx context.Context, workspaceID uuid.UUID) (map[invoice.StepStatus]int64, error)
}

type GormReminderRepo struct {
	db *gorm.DB
}

func NewGormReminderRepo(db *gorm.DB) *GormReminderRepo {
	return &GormReminderRepo{db: db}
}

// GetSchedule loads the schedule with its steps in index order.
func (r *GormReminderRepo) GetSchedule(ctx context.Context, invoiceID uuid.UUID) (*models.ReminderSchedule, error) {
	var sched models.ReminderSchedule
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_index ASC")
		}).
		First(&sched, "invoice_id = ?", invoiceID).Error
	if err != nil {
		return nil, translate(err, "reminder schedule", "get reminder schedule")
	}
	return &sched, nil
}

// CreateSchedule inserts the schedule and its steps.
func (r *GormReminderRepo) CreateSchedule(ctx context.Context, sched *models.ReminderSchedule) error {
	if err := r.db.WithContext(ctx).Create(sched).Error; err != nil {
		return apperr.Infrastructure(err, "create reminder schedule")
	}
	return nil
}

// ReplacePendingSteps cancels the schedule's PENDING steps and appends
// steps after the highest existing index. Steps already claimed or
// finished are left alone.
func (r *GormReminderRepo) ReplacePendingSteps(
	ctx context.Context,
	sched *models.ReminderSchedule,
	useDefaults bool,
	steps []models.ReminderStep,
) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ReminderStep{}).
			Where("schedule_id = ? AND status = ?", sched.ID, invoice.StepPending).
			Updates(map[string]any{
				"status":     invoice.StepCancelled,
				"last_error": "replaced by new reminder policy",
			}).Error; err != nil {
			return err
		}

		next, err := nextStepIndex(tx, sched.ID)
		if err != nil {
			return err
		}
		for i := range steps {
			steps[i].ScheduleID = sched.ID
			steps[i].Index = next + i
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.ReminderSchedule{}).
			Where("id = ?", sched.ID).
			Updates(map[string]any{
				"use_defaults": useDefaults,
				"enabled":      true,
			}).Error
	})
	if err != nil {
		return apperr.Infrastructure(err, "replace reminder steps")
	}
	return nil
}

func (r *GormReminderRepo) SetScheduleEnabled(ctx context.Context, invoiceID uuid.UUID, enabled bool) error {
	err := r.db.WithContext(ctx).Model(&models.ReminderSchedule{}).
		Where("invoice_id = ?", invoiceID).
		Update("enabled", enabled).Error
	return translate(err, "reminder schedule", "set schedule enabled")
}

// UpdateSendAt only touches a step that is still PENDING.
func (r *GormReminderRepo) UpdateSendAt(ctx context.Context, stepID uuid.UUID, sendAt time.Time, offsetMinutes int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ReminderStep{}).
		Where("id = ? AND status = ?", stepID, invoice.StepPending).
		Updates(map[string]any{
			"send_at":                    sendAt.UTC(),
			"offset_from_due_in_minutes": offsetMinutes,
		})
	if res.Error != nil {
		return false, apperr.Infrastructure(res.Error, "update step send time")
	}
	return res.RowsAffected == 1, nil
}

func (r *GormReminderRepo) CancelOutstanding(ctx context.Context, invoiceID uuid.UUID, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ReminderStep{}).
		Where("invoice_id = ? AND status IN ?", invoiceID, invoice.OutstandingStepStatuses).
		Updates(map[string]any{
			"status":     invoice.StepCancelled,
			"last_error": reason,
		})
	if res.Error != nil {
		return 0, apperr.Infrastructure(res.Error, "cancel outstanding steps")
	}
	return res.RowsAffected, nil
}

// FindDue selects PENDING steps of the workspace whose send time has come,
// restricted to invoices that are still active with reminders switched on.
func (r *GormReminderRepo) FindDue(ctx context.Context, workspaceID uuid.UUID, now time.Time, limit int) ([]models.ReminderStep, error) {
	var steps []models.ReminderStep
	q := r.db.WithContext(ctx).Model(&models.ReminderStep{}).
		Select("reminder_steps.*").
		Joins("JOIN invoices ON invoices.id = reminder_steps.invoice_id").
		Joins("JOIN reminder_schedules ON reminder_schedules.id = reminder_steps.schedule_id").
		Where("reminder_steps.workspace_id = ? AND reminder_steps.status = ? AND reminder_steps.send_at <= ?",
			workspaceID, invoice.StepPending, now.UTC()).
		Where("invoices.status NOT IN ? AND invoices.reminders_enabled = ? AND reminder_schedules.enabled = ?",
			[]invoice.Status{invoice.StatusPaid, invoice.StatusCancelled}, true, true).
		Order("reminder_steps.send_at ASC, reminder_steps.step_index ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&steps).Error; err != nil {
		return nil, apperr.Infrastructure(err, "find due reminder steps")
	}
	return steps, nil
}

// Claim moves a step PENDING->PROCESSING. apperr.ErrConflict means another
// pass got there first.
func (r *GormReminderRepo) Claim(ctx context.Context, stepID uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.ReminderStep{}).
		Where("id = ? AND status = ?", stepID, invoice.StepPending).
		Update("status", invoice.StepProcessing)
	if res.Error != nil {
		return apperr.Infrastructure(res.Error, "claim reminder step")
	}
	if res.RowsAffected == 0 {
		return apperr.ErrConflict
	}
	return nil
}

// Advance moves a step to to, guarded on every status allowed to precede
// it. It reports false when the step had already moved elsewhere.
func (r *GormReminderRepo) Advance(ctx context.Context, stepID uuid.UUID, to invoice.StepStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.ReminderStep{}).
		Where("id = ? AND status IN ?", stepID, invoice.PredecessorsOf(to)).
		Updates(updates)
	if res.Error != nil {
		return false, apperr.Infrastructure(res.Error, "advance reminder step")
	}
	return res.RowsAffected == 1, nil
}

func (r *GormReminderRepo) GetStep(ctx context.Context, stepID uuid.UUID) (*models.ReminderStep, error) {
	var step models.ReminderStep
	if err := r.db.WithContext(ctx).First(&step, "id = ?", stepID).Error; err != nil {
		return nil, translate(err, "reminder step", "get reminder step")
	}
	return &step, nil
}

func (r *GormReminderRepo) ListSteps(ctx context.Context, invoiceID uuid.UUID) ([]models.ReminderStep, error) {
	var steps []models.ReminderStep
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("step_index ASC").
		Find(&steps).Error
	if err != nil {
		return nil, apperr.Infrastructure(err, "list reminder steps")
	}
	return steps, nil
}

// AppendStep assigns the next free index of the step's schedule.
func (r *GormReminderRepo) AppendStep(ctx context.Context, step *models.ReminderStep) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := nextStepIndex(tx, step.ScheduleID)
		if err != nil {
			return err
		}
		step.Index = next
		return tx.Create(step).Error
	})
	if err != nil {
		return apperr.Infrastructure(err, "append reminder step")
	}
	return nil
}

type stepStatRow struct {
	Status invoice.StepStatus
	Count  int64
}

// CountByStatus reports how many steps of the workspace sit in each status.
// Statuses with no rows are reported as zero.
func (r *GormReminderRepo) CountByStatus(ctx context.Context, workspaceID uuid.UUID) (map[invoice.StepStatus]int64, error) {
	var rows []stepStatRow
	err := r.db.WithContext(ctx).Model(&models.ReminderStep{}).
		Where("workspace_id = ?", workspaceID).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Infrastructure(err, "count reminder steps")
	}

	out := make(map[invoice.StepStatus]int64, len(invoice.AllStepStatuses))
	for _, st := range invoice.AllStepStatuses {
		out[st] = 0
	}
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func nextStepIndex(tx *gorm.DB, scheduleID uuid.UUID) (int, error) {
	var maxIndex int
	err := tx.Model(&models.ReminderStep{}).
		Where("schedule_id = ?", scheduleID).
		Select("COALESCE(MAX(step_index), -1)").
		Scan(&maxIndex).Error
	if err != nil {
		return 0, err
	}
	return maxIndex + 1, nil
}
