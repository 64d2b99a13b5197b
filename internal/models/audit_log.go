package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditLog struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Actor       string     `gorm:"index"`
	Action      string     `gorm:"index"`
	InvoiceID   *uuid.UUID `gorm:"type:uuid;index"`
	WorkspaceID *uuid.UUID `gorm:"type:uuid;index"`
	Metadata    datatypes.JSON
	CreatedAt   time.Time
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
