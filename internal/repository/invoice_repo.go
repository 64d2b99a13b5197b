package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *models.Invoice) error
	CreateIgnoringDuplicates(ctx context.Context, inv *models.Invoice) (bool, error)
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Invoice, error)
	GetByNumber(ctx context.Context, workspaceID uuid.UUID, number string) (*models.Invoice, error)
	Search(ctx context.Context, workspaceID uuid.UUID, query string, statuses []invoice.Status) ([]models.Invoice, error)
	ListDrafts(ctx context.Context, workspaceID uuid.UUID, dueBefore *time.Time) ([]models.Invoice, error)
	MarkOverdue(ctx context.Context, workspaceID uuid.UUID, now time.Time) (int64, error)
	UpdateDueDate(ctx context.Context, id uuid.UUID, due time.Time) error
	SetRemindersEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	ApplyTransition(ctx context.Context, inv *models.Invoice, res invoice.Result, fields map[string]any, payment *models.Payment) (bool, error)
	NextInvoiceNumber(ctx context.Context, workspaceID uuid.UUID) (string, error)
}

type GormInvoiceRepo struct {
	db *gorm.DB
}

func NewGormInvoiceRepo(db *gorm.DB) *GormInvoiceRepo {
	return &GormInvoiceRepo{db: db}
}

// Expose DB if needed
func (r *GormInvoiceRepo) DB() *gorm.DB {
	return r.db
}

// NormalizeNumber is the canonical stored form of an invoice number.
func NormalizeNumber(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}

func (r *GormInvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	inv.InvoiceNumber = NormalizeNumber(inv.InvoiceNumber)
	if err := r.db.WithContext(ctx).Create(inv).Error; err != nil {
		return apperr.Infrastructure(err, "create invoice")
	}
	return nil
}

// CreateIgnoringDuplicates inserts inv unless its number already exists in
// the workspace. It reports whether a row was written.
func (r *GormInvoiceRepo) CreateIgnoringDuplicates(ctx context.Context, inv *models.Invoice) (bool, error) {
	inv.InvoiceNumber = NormalizeNumber(inv.InvoiceNumber)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(inv)
	if res.Error != nil {
		return false, apperr.Infrastructure(res.Error, "create invoice")
	}
	return res.RowsAffected == 1, nil
}

// GetByID fetch a single invoice by ID, with its client
func (r *GormInvoiceRepo) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Client").
		Where("workspace_id = ?", workspaceID).
		First(&inv, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "invoice", "get invoice")
	}
	return &inv, nil
}

// GetByNumber matches case-insensitively; numbers are stored upper-case.
func (r *GormInvoiceRepo) GetByNumber(ctx context.Context, workspaceID uuid.UUID, number string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Client").
		Where("workspace_id = ? AND UPPER(invoice_number) = ?", workspaceID, NormalizeNumber(number)).
		First(&inv).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("invoice %s", NormalizeNumber(number)), "get invoice by number")
	}
	return &inv, nil
}

// Search used for the invoice list endpoint with optional filters
func (r *GormInvoiceRepo) Search(ctx context.Context, workspaceID uuid.UUID, query string, statuses []invoice.Status) ([]models.Invoice, error) {
	var invoices []models.Invoice

	dbQuery := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("workspace_id = ?", workspaceID)

	if query != "" {
		dbQuery = dbQuery.Where("UPPER(invoice_number) LIKE ?", "%"+NormalizeNumber(query)+"%")
	}
	if len(statuses) > 0 {
		dbQuery = dbQuery.Where("status IN ?", statuses)
	}

	err := dbQuery.Order("due_date ASC").Find(&invoices).Error
	if err != nil {
		return nil, apperr.Infrastructure(err, "search invoices")
	}
	return invoices, nil
}

// ListDrafts returns the workspace's drafts, optionally only those due
// no later than dueBefore.
func (r *GormInvoiceRepo) ListDrafts(ctx context.Context, workspaceID uuid.UUID, dueBefore *time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	q := r.db.WithContext(ctx).
		Preload("Client").
		Where("workspace_id = ? AND status = ?", workspaceID, invoice.StatusDraft)
	if dueBefore != nil {
		q = q.Where("due_date <= ?", dueBefore.UTC())
	}
	if err := q.Order("due_date ASC").Find(&invoices).Error; err != nil {
		return nil, apperr.Infrastructure(err, "list drafts")
	}
	return invoices, nil
}

// MarkOverdue moves every invoice the state machine lets go overdue, and
// whose due date passed, to overdue in one statement.
func (r *GormInvoiceRepo) MarkOverdue(ctx context.Context, workspaceID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("workspace_id = ? AND status IN ? AND due_date < ?",
			workspaceID, invoice.SourcesOf(invoice.EventMarkOverdue), now.UTC()).
		Update("status", invoice.StatusOverdue)
	if res.Error != nil {
		return 0, apperr.Infrastructure(res.Error, "mark overdue")
	}
	return res.RowsAffected, nil
}

func (r *GormInvoiceRepo) UpdateDueDate(ctx context.Context, id uuid.UUID, due time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("due_date", due.UTC()).Error
	return translate(err, "invoice", "update due date")
}

func (r *GormInvoiceRepo) SetRemindersEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	err := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("reminders_enabled", enabled).Error
	return translate(err, "invoice", "set reminders enabled")
}

// ApplyTransition writes res with a compare-and-set on the status the
// caller observed. It reports false when another writer moved the invoice
// first. Entering a terminal status also disables reminders and cancels
// outstanding steps in the same transaction; payment, when given, is
// inserted alongside.
func (r *GormInvoiceRepo) ApplyTransition(
	ctx context.Context,
	inv *models.Invoice,
	res invoice.Result,
	fields map[string]any,
	payment *models.Payment,
) (bool, error) {
	updates := map[string]any{"status": res.To}
	for k, v := range fields {
		updates[k] = v
	}
	stops := invoice.StopsReminders(res.To)
	if stops {
		updates["reminders_enabled"] = false
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, res.From).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		applied = true

		if stops {
			if err := cancelOutstandingSteps(tx, inv.ID, fmt.Sprintf("invoice %s", res.To)); err != nil {
				return err
			}
			if err := tx.Model(&models.ReminderSchedule{}).
				Where("invoice_id = ?", inv.ID).
				Update("enabled", false).Error; err != nil {
				return err
			}
		}

		if payment != nil {
			if err := tx.Create(payment).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, apperr.Infrastructure(err, "apply invoice transition")
	}
	return applied, nil
}

// NextInvoiceNumber bumps the workspace sequence and formats it.
func (r *GormInvoiceRepo) NextInvoiceNumber(ctx context.Context, workspaceID uuid.UUID) (string, error) {
	var seq int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Workspace{}).
			Where("id = ?", workspaceID).
			UpdateColumn("invoice_seq", gorm.Expr("invoice_seq + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&models.Workspace{}).
			Select("invoice_seq").
			Where("id = ?", workspaceID).
			Scan(&seq).Error
	})
	if err != nil {
		return "", translate(err, "workspace", "next invoice number")
	}
	return fmt.Sprintf("INV-%04d", seq), nil
}

func cancelOutstandingSteps(tx *gorm.DB, invoiceID uuid.UUID, reason string) error {
	return tx.Model(&models.ReminderStep{}).
		Where("invoice_id = ? AND status IN ?", invoiceID, invoice.OutstandingStepStatuses).
		Updates(map[string]any{
			"status":     invoice.StepCancelled,
			"last_error": reason,
		}).Error
}
