package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HistoryOutcome string

const (
	OutcomeSent    HistoryOutcome = "sent"
	OutcomeFailed  HistoryOutcome = "failed"
	OutcomeSkipped HistoryOutcome = "skipped"
)

// ReminderHistory is written once per fired reminder and never updated.
type ReminderHistory struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID  `gorm:"type:uuid;index"`
	InvoiceID   uuid.UUID  `gorm:"type:uuid;index"`
	StepID      *uuid.UUID `gorm:"type:uuid"`
	Channel     Channel    `gorm:"type:varchar(16)"`
	Tone        string
	Recipient   string
	Outcome     HistoryOutcome `gorm:"type:varchar(16);index"`
	Error       string         `gorm:"type:text"`
	Trigger     string
	CreatedAt   time.Time
}

func (h *ReminderHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
