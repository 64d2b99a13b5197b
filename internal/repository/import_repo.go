package repository

import (
	"context"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImportRepository interface {
	Create(ctx context.Context, rec *models.ImportRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImportRecord, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, now time.Time, staleAfter time.Duration) (bool, error)
	Complete(ctx context.Context, id, invoiceID uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, reason string, terminal bool) error
}

type GormImportRepo struct {
	db *gorm.DB
}

func NewGormImportRepo(db *gorm.DB) *GormImportRepo {
	return &GormImportRepo{db: db}
}

func (r *GormImportRepo) Create(ctx context.Context, rec *models.ImportRecord) error {
	if rec.Status == "" {
		rec.Status = models.ImportPending
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return apperr.Infrastructure(err, "create import record")
	}
	return nil
}

func (r *GormImportRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportRecord, error) {
	var rec models.ImportRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err, "import record", "get import record")
	}
	return &rec, nil
}

// MarkProcessing claims a PENDING record and counts the attempt. A
// PROCESSING record whose attempt started more than staleAfter before now
// is claimed too, since the worker holding it is gone. False means the
// record is finished or held by a live attempt.
func (r *GormImportRepo) MarkProcessing(ctx context.Context, id uuid.UUID, now time.Time, staleAfter time.Duration) (bool, error) {
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&models.ImportRecord{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND started_at < ?)",
			models.ImportPending, models.ImportProcessing, now.Add(-staleAfter)).
		Updates(map[string]any{
			"status":     models.ImportProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
		})
	if res.Error != nil {
		return false, apperr.Infrastructure(res.Error, "claim import record")
	}
	return res.RowsAffected == 1, nil
}

func (r *GormImportRepo) Complete(ctx context.Context, id, invoiceID uuid.UUID) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.ImportRecord{}).
		Where("id = ? AND status = ?", id, models.ImportProcessing).
		Updates(map[string]any{
			"status":       models.ImportCompleted,
			"invoice_id":   invoiceID,
			"last_error":   "",
			"completed_at": now,
		}).Error
	return translate(err, "import record", "complete import record")
}

// Fail records reason on a record that has not finished. A non-terminal
// failure puts it back to PENDING so the next retry can claim it.
func (r *GormImportRepo) Fail(ctx context.Context, id uuid.UUID, reason string, terminal bool) error {
	updates := map[string]any{"last_error": reason}
	if terminal {
		updates["status"] = models.ImportFailed
		updates["completed_at"] = time.Now().UTC()
	} else {
		updates["status"] = models.ImportPending
	}
	err := r.db.WithContext(ctx).Model(&models.ImportRecord{}).
		Where("id = ? AND status IN ?", id, []models.ImportStatus{models.ImportPending, models.ImportProcessing}).
		Updates(updates).Error
	return translate(err, "import record", "fail import record")
}
