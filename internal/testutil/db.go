// Package testutil opens throwaway SQLite databases and seeds fixtures for
// package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated SQLite database in t's temp dir. A single
// connection keeps concurrent tests from tripping over SQLite locks.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func SeedWorkspace(t *testing.T, db *gorm.DB, tz string) *models.Workspace {
	t.Helper()
	ws := &models.Workspace{
		Name:       "Acme Studio",
		Timezone:   tz,
		OwnerName:  "Dana Owner",
		OwnerEmail: "owner@acme.test",
		ChatTeamID: "T" + uuid.NewString()[:8],
		Currency:   "USD",
	}
	require.NoError(t, db.Create(ws).Error)
	return ws
}

func SeedClient(t *testing.T, db *gorm.DB, ws *models.Workspace, name, email, phone string) *models.Client {
	t.Helper()
	c := &models.Client{
		WorkspaceID: ws.ID,
		Name:        name,
		Email:       email,
		Phone:       phone,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

// SeedInvoice creates an invoice with reminders enabled for client.
func SeedInvoice(t *testing.T, db *gorm.DB, ws *models.Workspace, client *models.Client, number string, status invoice.Status, total string, due time.Time) *models.Invoice {
	t.Helper()
	inv := &models.Invoice{
		WorkspaceID:      ws.ID,
		ClientID:         client.ID,
		InvoiceNumber:    number,
		Total:            decimal.RequireFromString(total),
		Currency:         "USD",
		DueDate:          due.UTC(),
		Status:           status,
		RemindersEnabled: true,
	}
	require.NoError(t, db.Create(inv).Error)
	return inv
}

// SeedSchedule attaches an enabled schedule with one PENDING step per
// sendAt to inv.
func SeedSchedule(t *testing.T, db *gorm.DB, inv *models.Invoice, channel models.Channel, sendAts ...time.Time) *models.ReminderSchedule {
	t.Helper()
	sched := &models.ReminderSchedule{
		InvoiceID:   inv.ID,
		WorkspaceID: inv.WorkspaceID,
		Enabled:     true,
		UseDefaults: false,
	}
	for i, at := range sendAts {
		days := i
		sched.Steps = append(sched.Steps, models.ReminderStep{
			InvoiceID:    inv.ID,
			WorkspaceID:  inv.WorkspaceID,
			Index:        i,
			DaysAfterDue: &days,
			SendAt:       at.UTC(),
			Status:       invoice.StepPending,
			Channel:      channel,
			Tone:         "gentle",
		})
	}
	require.NoError(t, db.Create(sched).Error)
	return sched
}
