package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Workspace struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string
	Timezone   string `gorm:"default:UTC"`
	OwnerName  string
	OwnerEmail string
	// ChatTeamID maps inbound chat commands to this workspace.
	ChatTeamID     string `gorm:"index"`
	Currency       string `gorm:"size:3"`
	DefaultCadence datatypes.JSONSlice[CadenceStep]
	InvoiceSeq     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// Location falls back to UTC when the stored zone is empty or unknown.
func (w *Workspace) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Client struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index"`
	Name        string    `gorm:"index"`
	Email       string
	Phone       string
	CreatedAt   time.Time
}

func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
