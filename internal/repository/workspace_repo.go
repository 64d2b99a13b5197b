package repository

import (
	"context"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WorkspaceRepository interface {
	Create(ctx context.Context, ws *models.Workspace) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	GetByChatTeam(ctx context.Context, teamID string) (*models.Workspace, error)
	List(ctx context.Context) ([]models.Workspace, error)
}

type GormWorkspaceRepo struct {
	db *gorm.DB
}

func NewGormWorkspaceRepo(db *gorm.DB) *GormWorkspaceRepo {
	return &GormWorkspaceRepo{db: db}
}

func (r *GormWorkspaceRepo) Create(ctx context.Context, ws *models.Workspace) error {
	if err := r.db.WithContext(ctx).Create(ws).Error; err != nil {
		return apperr.Infrastructure(err, "create workspace")
	}
	return nil
}

func (r *GormWorkspaceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	var ws models.Workspace
	if err := r.db.WithContext(ctx).First(&ws, "id = ?", id).Error; err != nil {
		return nil, translate(err, "workspace", "get workspace")
	}
	return &ws, nil
}

func (r *GormWorkspaceRepo) GetByChatTeam(ctx context.Context, teamID string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := r.db.WithContext(ctx).First(&ws, "chat_team_id = ?", teamID).Error; err != nil {
		return nil, translate(err, "workspace", "get workspace by chat team")
	}
	return &ws, nil
}

func (r *GormWorkspaceRepo) List(ctx context.Context) ([]models.Workspace, error) {
	var out []models.Workspace
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, apperr.Infrastructure(err, "list workspaces")
	}
	return out, nil
}
