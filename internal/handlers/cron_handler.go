package handler

import (
	"errors"
	"io"
	"net/http"

	"invoice-automation-backend/internal/services/approval"
	"invoice-automation-backend/internal/services/dispatcher"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CronHandler exposes the periodic passes to an external trigger.
type CronHandler struct {
	dispatcher *dispatcher.Dispatcher
	notifier   *approval.Notifier
	log        *zap.Logger
}

func NewCronHandler(d *dispatcher.Dispatcher, n *approval.Notifier, log *zap.Logger) *CronHandler {
	return &CronHandler{dispatcher: d, notifier: n, log: log.Named("cron")}
}

func optionalWorkspace(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Query("workspace_id")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workspace ID"})
		return nil, false
	}
	return &id, true
}

// RunReminders runs one dispatcher pass, over one workspace when
// workspace_id is given and every workspace otherwise.
func (h *CronHandler) RunReminders(c *gin.Context) {
	wsID, ok := optionalWorkspace(c)
	if !ok {
		return
	}

	var (
		summary dispatcher.Summary
		err     error
	)
	if wsID != nil {
		summary, err = h.dispatcher.Run(c.Request.Context(), *wsID)
	} else {
		summary, err = h.dispatcher.RunAll(c.Request.Context())
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *CronHandler) RunDraftApprovals(c *gin.Context) {
	wsID, ok := optionalWorkspace(c)
	if !ok {
		return
	}

	var req approval.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	for _, d := range req.DaysBeforeDue {
		if d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "daysBeforeDue values cannot be negative"})
			return
		}
	}

	summary, err := h.notifier.Run(c.Request.Context(), wsID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *CronHandler) ListAtRiskDrafts(c *gin.Context) {
	wsID, ok := optionalWorkspace(c)
	if !ok {
		return
	}
	items, err := h.notifier.ListAtRisk(c.Request.Context(), wsID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}
