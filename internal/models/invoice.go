package models

import (
	"time"

	"invoice-automation-backend/internal/invoice"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Invoice struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	WorkspaceID      uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_invoice_ws_number,priority:1"`
	ClientID         uuid.UUID       `gorm:"type:uuid;index"`
	Client           *Client         `gorm:"foreignKey:ClientID"`
	InvoiceNumber    string          `gorm:"uniqueIndex:idx_invoice_ws_number,priority:2"`
	Total            decimal.Decimal `gorm:"type:numeric(14,2)"`
	Currency         string          `gorm:"size:3"`
	DueDate          time.Time       `gorm:"index"`
	Status           invoice.Status  `gorm:"type:varchar(16);index"`
	RemindersEnabled bool
	Notes            string `gorm:"type:text"`
	LastSentAt       *time.Time
	PaidAt           *time.Time
	Schedule         *ReminderSchedule `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
