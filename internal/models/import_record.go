package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImportStatus string

const (
	ImportPending    ImportStatus = "PENDING"
	ImportProcessing ImportStatus = "PROCESSING"
	ImportCompleted  ImportStatus = "COMPLETED"
	ImportFailed     ImportStatus = "FAILED"
)

type ImportSource string

const (
	ImportFromText   ImportSource = "chat_text"
	ImportFromThread ImportSource = "chat_thread"
)

// ImportRecord tracks one chat-initiated invoice extraction.
type ImportRecord struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID    `gorm:"type:uuid;index"`
	Source      ImportSource `gorm:"type:varchar(16)"`
	RawText     string       `gorm:"type:text"`
	ThreadRef   string
	ChannelRef  string
	RequestedBy string
	Status      ImportStatus `gorm:"type:varchar(16);index"`
	InvoiceID   *uuid.UUID   `gorm:"type:uuid"`
	Attempts    int
	LastError   string `gorm:"type:text"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r *ImportRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
