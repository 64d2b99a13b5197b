package repository

import (
	"context"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payments are written by InvoiceRepository.ApplyTransition together with
// the paid transition; this repository only reads them.
type PaymentRepository interface {
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error)
	TotalForInvoice(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
}

type GormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) *GormPaymentRepo {
	return &GormPaymentRepo{db: db}
}

func (r *GormPaymentRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error) {
	var out []models.Payment
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("received_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Infrastructure(err, "list payments")
	}
	return out, nil
}

func (r *GormPaymentRepo) TotalForInvoice(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	payments, err := r.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total, nil
}
