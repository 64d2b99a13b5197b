package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HistoryRepository interface {
	Append(ctx context.Context, h *models.ReminderHistory) error
	List(ctx context.Context, filter HistoryFilter) ([]models.ReminderHistory, string, bool, error)
}

// HistoryFilter pages through a workspace's history newest first.
// Cursor is the value returned as next cursor by the previous page.
type HistoryFilter struct {
	WorkspaceID uuid.UUID
	InvoiceID   *uuid.UUID
	Outcome     models.HistoryOutcome
	Cursor      string
	Limit       int
}

type GormHistoryRepo struct {
	db *gorm.DB
}

func NewGormHistoryRepo(db *gorm.DB) *GormHistoryRepo {
	return &GormHistoryRepo{db: db}
}

func (r *GormHistoryRepo) Append(ctx context.Context, h *models.ReminderHistory) error {
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return apperr.Infrastructure(err, "append reminder history")
	}
	return nil
}

func (r *GormHistoryRepo) List(ctx context.Context, f HistoryFilter) ([]models.ReminderHistory, string, bool, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := r.db.WithContext(ctx).
		Where("workspace_id = ?", f.WorkspaceID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if f.InvoiceID != nil {
		query = query.Where("invoice_id = ?", *f.InvoiceID)
	}
	if f.Outcome != "" {
		query = query.Where("outcome = ?", f.Outcome)
	}
	if f.Cursor != "" {
		at, id, err := decodeHistoryCursor(f.Cursor)
		if err != nil {
			return nil, "", false, err
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, id)
	}

	var rows []models.ReminderHistory
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", false, apperr.Infrastructure(err, "list reminder history")
	}

	hasMore := false
	var nextCursor string
	if len(rows) > limit {
		hasMore = true
		rows = rows[:limit]
		last := rows[limit-1]
		nextCursor = encodeHistoryCursor(last.CreatedAt, last.ID)
	}
	return rows, nextCursor, hasMore, nil
}

func encodeHistoryCursor(at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%s_%s", at.UTC().Format(time.RFC3339Nano), id)
}

func decodeHistoryCursor(cursor string) (time.Time, uuid.UUID, error) {
	ts, idStr, ok := strings.Cut(cursor, "_")
	if !ok {
		return time.Time{}, uuid.Nil, apperr.Validation("invalid cursor")
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, uuid.Nil, apperr.Validation("invalid cursor")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return time.Time{}, uuid.Nil, apperr.Validation("invalid cursor")
	}
	return at.UTC(), id, nil
}
