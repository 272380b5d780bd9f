package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"stream-chat/internal/domain"
	"stream-chat/internal/llm"
	"stream-chat/internal/repository"
)

// ContextService define contrato para armar el contexto que recibe el modelo.
type ContextService interface {
	BuildPrompt(ctx context.Context, conversationID string, userMessage domain.Message) ([]llm.ChatMessage, error)
}

// HistoryContextService usa los ultimos mensajes persistidos de la conversacion.
type HistoryContextService struct {
	messageRepo  repository.MessageRepository
	window       int
	systemPrompt string
}

func NewHistoryContextService(messageRepo repository.MessageRepository, window int, systemPrompt string) *HistoryContextService {
	if window <= 0 {
		window = 20
	}
	return &HistoryContextService{
		messageRepo:  messageRepo,
		window:       window,
		systemPrompt: strings.TrimSpace(systemPrompt),
	}
}

func (s *HistoryContextService) BuildPrompt(ctx context.Context, conversationID string, userMessage domain.Message) ([]llm.ChatMessage, error) {
	var out []llm.ChatMessage
	if s.systemPrompt != "" {
		out = append(out, llm.ChatMessage{Role: "system", Content: s.systemPrompt})
	}

	if strings.TrimSpace(conversationID) != "" {
		messages, err := s.messageRepo.ListByConversationID(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}

		sort.SliceStable(messages, func(i, j int) bool {
			ti, _ := domain.ParseTimestamp(messages[i].Timestamp)
			tj, _ := domain.ParseTimestamp(messages[j].Timestamp)
			return ti.Before(tj)
		})

		if len(messages) > s.window {
			messages = messages[len(messages)-s.window:]
		}

		for _, m := range messages {
			if role, ok := providerRole(m.Role); ok && strings.TrimSpace(m.Content) != "" {
				out = append(out, llm.ChatMessage{Role: role, Content: m.Content})
			}
		}
	}

	out = append(out, llm.ChatMessage{Role: "user", Content: userMessage.Content})
	return out, nil
}

// providerRole traduce roles del wire a los del proveedor. Roles opacos se omiten.
func providerRole(role string) (string, bool) {
	switch strings.ToLower(role) {
	case domain.RoleUser:
		return "user", true
	case domain.RoleModel, "assistant":
		return "assistant", true
	case "system":
		return "system", true
	default:
		return "", false
	}
}
