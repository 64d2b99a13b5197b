package repository

import (
	"context"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NoticeRepository de-duplicates draft-approval sends.
type NoticeRepository interface {
	Claim(ctx context.Context, n *models.DraftApprovalNotice) (bool, error)
	Release(ctx context.Context, invoiceID uuid.UUID, daysUntilDue int) error
}

type GormNoticeRepo struct {
	db *gorm.DB
}

func NewGormNoticeRepo(db *gorm.DB) *GormNoticeRepo {
	return &GormNoticeRepo{db: db}
}

// Claim inserts the notice unless one exists for the same invoice and day
// offset, and reports whether this caller won.
func (r *GormNoticeRepo) Claim(ctx context.Context, n *models.DraftApprovalNotice) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "invoice_id"}, {Name: "days_until_due"}},
			DoNothing: true,
		}).
		Create(n)
	if res.Error != nil {
		return false, apperr.Infrastructure(res.Error, "claim draft approval notice")
	}
	return res.RowsAffected == 1, nil
}

func (r *GormNoticeRepo) Release(ctx context.Context, invoiceID uuid.UUID, daysUntilDue int) error {
	err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND days_until_due = ?", invoiceID, daysUntilDue).
		Delete(&models.DraftApprovalNotice{}).Error
	if err != nil {
		return apperr.Infrastructure(err, "release draft approval notice")
	}
	return nil
}
