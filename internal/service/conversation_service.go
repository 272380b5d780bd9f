package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stream-chat/internal/domain"
	"stream-chat/internal/repository"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationService maneja la metadata de conversaciones.
type ConversationService struct {
	repo repository.ConversationRepository
	now  func() time.Time
}

func NewConversationService(repo repository.ConversationRepository) *ConversationService {
	return &ConversationService{repo: repo, now: time.Now}
}

func (s *ConversationService) Create(ctx context.Context, roleType string) (domain.Conversation, error) {
	roleType = strings.TrimSpace(roleType)
	if roleType == "" {
		roleType = "default"
	}
	now := s.now().UTC()
	c := domain.Conversation{
		ID:        uuid.NewString(),
		RoleType:  roleType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return domain.Conversation{}, err
	}
	return c, nil
}

// Get devuelve ErrConversationNotFound si no existe.
func (s *ConversationService) Get(ctx context.Context, id string) (domain.Conversation, error) {
	c, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return c, err
}

func (s *ConversationService) List(ctx context.Context) ([]domain.Conversation, error) {
	return s.repo.List(ctx)
}

func (s *ConversationService) Touch(ctx context.Context, id string) error {
	return s.repo.Touch(ctx, id, s.now().UTC())
}
