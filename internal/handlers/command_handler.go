package handler

import (
	"net/http"

	"invoice-automation-backend/internal/services/commands"

	"github.com/gin-gonic/gin"
)

// CommandHandler receives chat slash commands. The signature middleware
// has already run; everything from here answers 200 with a chat message.
type CommandHandler struct {
	gateway *commands.Gateway
}

func NewCommandHandler(g *commands.Gateway) *CommandHandler {
	return &CommandHandler{gateway: g}
}

func (h *CommandHandler) Handle(c *gin.Context) {
	resp := h.gateway.Handle(c.Request.Context(), commands.Request{
		TeamID:    c.PostForm("team_id"),
		UserID:    c.PostForm("user_id"),
		UserName:  c.PostForm("user_name"),
		ChannelID: c.PostForm("channel_id"),
		ThreadRef: c.PostForm("thread_ts"),
		Text:      c.PostForm("text"),
	})
	c.JSON(http.StatusOK, resp)
}
