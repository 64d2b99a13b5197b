package models

import (
	"time"

	"invoice-automation-backend/internal/invoice"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelBoth     Channel = "both"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp || c == ChannelBoth
}

// Targets expands ChannelBoth into the concrete delivery channels.
func (c Channel) Targets() []Channel {
	if c == ChannelBoth {
		return []Channel{ChannelEmail, ChannelWhatsApp}
	}
	return []Channel{c}
}

// CadenceStep is one entry of a reminder policy, default or custom.
// Exactly one of DaysBeforeDue and DaysAfterDue must be set.
type CadenceStep struct {
	DaysBeforeDue *int    `json:"daysBeforeDue,omitempty"`
	DaysAfterDue  *int    `json:"daysAfterDue,omitempty"`
	MinuteOffset  int     `json:"minuteOffset"`
	Channel       Channel `json:"channel"`
	Tone          string  `json:"tone"`
	NotifyCreator bool    `json:"notifyCreator"`
}

type ReminderSchedule struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	InvoiceID   uuid.UUID      `gorm:"type:uuid;uniqueIndex"`
	WorkspaceID uuid.UUID      `gorm:"type:uuid;index"`
	Enabled     bool
	UseDefaults bool
	Steps       []ReminderStep `gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *ReminderSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type ReminderStep struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScheduleID  uuid.UUID `gorm:"type:uuid;index"`
	InvoiceID   uuid.UUID `gorm:"type:uuid;index"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_step_due,priority:1"`
	Index       int       `gorm:"column:step_index"`

	DaysBeforeDue *int
	DaysAfterDue  *int
	MinuteOffset  int
	// OffsetFromDueInMinutes is the signed total offset from the due instant.
	OffsetFromDueInMinutes int
	SendAt                 time.Time          `gorm:"index:idx_step_due,priority:3"`
	Status                 invoice.StepStatus `gorm:"type:varchar(16);index:idx_step_due,priority:2"`

	Channel       Channel `gorm:"type:varchar(16)"`
	Tone          string
	NotifyCreator bool
	LastError     string `gorm:"type:text"`
	SentAt        *time.Time
	ResendOf      *uuid.UUID `gorm:"type:uuid"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *ReminderStep) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
