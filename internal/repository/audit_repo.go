package repository

import (
	"context"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.AuditLog, error)
}

type GormAuditRepo struct {
	db *gorm.DB
}

func NewGormAuditRepo(db *gorm.DB) *GormAuditRepo {
	return &GormAuditRepo{db: db}
}

func (r *GormAuditRepo) Create(ctx context.Context, entry *models.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return apperr.Infrastructure(err, "write audit log")
	}
	return nil
}

func (r *GormAuditRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, apperr.Infrastructure(err, "list audit log")
	}
	return entries, nil
}
