package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Payment struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	WorkspaceID     uuid.UUID       `gorm:"type:uuid;index"`
	InvoiceID       uuid.UUID       `gorm:"type:uuid;index"`
	Amount          decimal.Decimal `gorm:"type:numeric(14,2)"`
	Currency        string          `gorm:"size:3"`
	Method          string
	ReferenceNumber string
	IsPartial       bool
	IsOverpaid      bool
	RecordedBy      string
	ReceivedAt      time.Time
	CreatedAt       time.Time
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// DraftApprovalNotice guards against sending the same draft-approval
// reminder twice for one invoice and day offset.
type DraftApprovalNotice struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID  uuid.UUID `gorm:"type:uuid;index"`
	InvoiceID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_notice_invoice_day,priority:1"`
	DaysUntilDue int       `gorm:"uniqueIndex:idx_notice_invoice_day,priority:2"`
	Urgency      string
	CreatedAt    time.Time
}

func (n *DraftApprovalNotice) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// All lists every model for AutoMigrate, parents first.
func All() []any {
	return []any{
		&Workspace{},
		&Client{},
		&Invoice{},
		&ReminderSchedule{},
		&ReminderStep{},
		&ReminderHistory{},
		&AuditLog{},
		&ImportRecord{},
		&Payment{},
		&DraftApprovalNotice{},
	}
}
