package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stream-chat/internal/service"
)

// ConversationHandler expone la metadata de conversaciones.
type ConversationHandler struct {
	logger        *zap.Logger
	conversations *service.ConversationService
}

func NewConversationHandler(logger *zap.Logger, conversations *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{logger: logger, conversations: conversations}
}

// Create maneja POST /api/conversations. role_type puede venir en el body o en la query.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req struct {
		RoleType string `json:"role_type"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Warn("invalid create conversation request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	if req.RoleType == "" {
		req.RoleType = c.Query("role_type")
	}

	conv, err := h.conversations.Create(c.Request.Context(), req.RoleType)
	if err != nil {
		h.logger.Error("create conversation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// List maneja GET /api/conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	convs, err := h.conversations.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list conversations failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list conversations"})
		return
	}
	c.JSON(http.StatusOK, convs)
}

// Get maneja GET /api/conversations/:id.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.conversations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, msg := chatErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("get conversation failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, conv)
}
