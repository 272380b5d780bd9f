package service

import (
	"context"
	"errors"
	"strings"

	"stream-chat/internal/domain"
	"stream-chat/internal/repository"
)

// MessageService expone el historial persistido de una conversacion.
type MessageService struct {
	repo repository.MessageRepository
}

var ErrMessageServiceNotConfigured = errors.New("message service not configured")

func NewMessageService(repo repository.MessageRepository) *MessageService {
	return &MessageService{repo: repo}
}

func (s *MessageService) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return []domain.Message{}, nil
	}
	msgs, err := s.repo.ListByConversationID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}
