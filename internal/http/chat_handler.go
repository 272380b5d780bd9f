package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stream-chat/internal/domain"
	"stream-chat/internal/service"
)

const ndjsonContentType = "application/x-ndjson"

// ChatHandler sirve el stream NDJSON de chat y el historial.
type ChatHandler struct {
	logger        *zap.Logger
	chat          *service.ChatService
	messages      *service.MessageService
	conversations *service.ConversationService
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(
	logger *zap.Logger,
	chat *service.ChatService,
	messages *service.MessageService,
	conversations *service.ConversationService,
) *ChatHandler {
	return &ChatHandler{
		logger:        logger,
		chat:          chat,
		messages:      messages,
		conversations: conversations,
	}
}

// PostChat maneja POST /api/chat/:conversation_id.
// Acepta JSON {"content","id"} o form con prompt/content.
func (h *ChatHandler) PostChat(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	in, err := bindChatRequest(c)
	if err != nil {
		h.logger.Warn("invalid chat request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	turn, err := h.chat.Prepare(c.Request.Context(), conversationID, in)
	if err != nil {
		status, msg := chatErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("prepare chat turn failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.Header("Content-Type", ndjsonContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	err = turn.Run(c.Request.Context(), func(m domain.Message) error {
		if err := enc.Encode(m); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		// El status ya se envio: el cliente ve el corte del stream.
		h.logger.Warn("chat stream ended with error",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

// GetHistory maneja GET /api/chat/:conversation_id/history.
// NDJSON por defecto; array JSON si el cliente pide application/json.
func (h *ChatHandler) GetHistory(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if _, err := h.conversations.Get(c.Request.Context(), conversationID); err != nil {
		status, msg := chatErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	msgs, err := h.messages.ListByConversation(c.Request.Context(), conversationID)
	if err != nil {
		h.logger.Error("list history failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(http.StatusOK, msgs)
		return
	}

	c.Header("Content-Type", ndjsonContentType)
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			h.logger.Warn("write history failed", zap.Error(err))
			return
		}
	}
}

func bindChatRequest(c *gin.Context) (domain.Message, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req struct {
			ID      string `json:"id"`
			Content string `json:"content" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return domain.Message{}, err
		}
		return domain.Message{ID: req.ID, Content: req.Content}, nil
	}

	content := c.PostForm("prompt")
	if content == "" {
		content = c.PostForm("content")
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, errors.New("missing prompt")
	}
	return domain.Message{ID: c.PostForm("id"), Content: content}, nil
}

func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrChatInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, service.ErrConversationNotFound):
		return http.StatusNotFound, "conversation not found"
	case errors.Is(err, service.ErrConversationBusy):
		return http.StatusConflict, "conversation busy"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
