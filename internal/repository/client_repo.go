package repository

import (
	"context"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ClientRepository interface {
	Create(ctx context.Context, c *models.Client) error
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Client, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Client, error)
}

type GormClientRepo struct {
	db *gorm.DB
}

func NewGormClientRepo(db *gorm.DB) *GormClientRepo {
	return &GormClientRepo{db: db}
}

func (r *GormClientRepo) Create(ctx context.Context, c *models.Client) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return apperr.Infrastructure(err, "create client")
	}
	return nil
}

func (r *GormClientRepo) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Client, error) {
	var c models.Client
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "client", "get client")
	}
	return &c, nil
}

func (r *GormClientRepo) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Client, error) {
	var out []models.Client
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("name ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Infrastructure(err, "list clients")
	}
	return out, nil
}
