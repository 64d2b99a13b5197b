package handler

import (
	"net/http"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderWorkspaceID = "X-Workspace-ID"
	HeaderActor       = "X-Actor"
)

// respondError writes {"error": ...} with the status the error kind maps
// to. Infrastructure details are logged, never returned.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperr.UserMessage(err)})
}

func parseID(c *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

func actor(c *gin.Context) string {
	if a := c.GetHeader(HeaderActor); a != "" {
		return a
	}
	return "api"
}

// workspaceFrom loads the workspace named by the X-Workspace-ID header.
func workspaceFrom(c *gin.Context, repo repository.WorkspaceRepository, log *zap.Logger) (*models.Workspace, bool) {
	id, err := uuid.Parse(c.GetHeader(HeaderWorkspaceID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid " + HeaderWorkspaceID + " header"})
		return nil, false
	}
	ws, err := repo.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, log, err)
		return nil, false
	}
	return ws, true
}
