package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stream-chat/internal/domain"
	"stream-chat/internal/llm"
	"stream-chat/internal/repository"
)

var ErrChatInvalidInput = errors.New("chat invalid input")

const defaultSnapshotInterval = 10 * time.Millisecond

// ChatService procesa un mensaje: emite el eco del usuario, luego la respuesta del
// modelo como snapshots de contenido completo con id y timestamp fijos, y al final
// persiste ambos mensajes.
type ChatService struct {
	llmClient     llm.StreamClient
	messageRepo   repository.MessageRepository
	conversations *ConversationService
	contextSvc    ContextService
	lock          SendLock
	logger        *zap.Logger

	snapshotInterval time.Duration
	now              func() time.Time
}

func NewChatService(
	llmClient llm.StreamClient,
	messageRepo repository.MessageRepository,
	conversations *ConversationService,
	contextSvc ContextService,
	lock SendLock,
	logger *zap.Logger,
) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lock == nil {
		lock = NewMemorySendLock(0)
	}
	return &ChatService{
		llmClient:        llmClient,
		messageRepo:      messageRepo,
		conversations:    conversations,
		contextSvc:       contextSvc,
		lock:             lock,
		logger:           logger,
		snapshotInterval: defaultSnapshotInterval,
		now:              time.Now,
	}
}

// Prepare valida la entrada y reserva la conversacion antes de empezar a escribir el
// stream, para que el handler todavia pueda responder con un status de error.
func (s *ChatService) Prepare(ctx context.Context, conversationID string, in domain.Message) (*Turn, error) {
	content := strings.TrimSpace(in.Content)
	if strings.TrimSpace(conversationID) == "" || content == "" {
		return nil, ErrChatInvalidInput
	}
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	release, err := s.lock.Acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	id := in.ID
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		id = uuid.NewString()
	}
	return &Turn{
		svc:     s,
		release: release,
		user: domain.Message{
			ID:             id,
			ConversationID: conversationID,
			Role:           domain.RoleUser,
			Content:        content,
			Timestamp:      domain.FormatTimestamp(s.now()),
		},
	}, nil
}

// Turn es un envio reservado. Run debe llamarse una sola vez; libera la reserva al terminar.
type Turn struct {
	svc     *ChatService
	release func()
	user    domain.Message
}

func (t *Turn) UserMessage() domain.Message { return t.user }

// Run emite el eco, genera la respuesta y persiste. emit recibe cada registro en orden.
func (t *Turn) Run(ctx context.Context, emit func(domain.Message) error) error {
	defer t.release()
	s := t.svc
	logger := s.logger.With(zap.String("conversation_id", t.user.ConversationID))

	if err := emit(t.user); err != nil {
		return fmt.Errorf("emit user echo: %w", err)
	}

	prompt, err := s.contextSvc.BuildPrompt(ctx, t.user.ConversationID, t.user)
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}

	reply := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: t.user.ConversationID,
		Role:           domain.RoleModel,
		Timestamp:      domain.FormatTimestamp(s.now()),
	}

	var lastEmit time.Time
	emitted := ""
	final, err := s.llmClient.Stream(ctx, prompt, func(acc string) error {
		if time.Since(lastEmit) < s.snapshotInterval {
			return nil
		}
		lastEmit = time.Now()
		emitted = acc
		reply.Content = acc
		return emit(reply)
	})
	if err != nil {
		logger.Warn("llm stream failed", zap.Error(err))
		if perr := s.messageRepo.Create(ctx, t.user); perr != nil {
			logger.Error("persist user message failed", zap.Error(perr))
		}
		return fmt.Errorf("llm stream: %w", err)
	}

	reply.Content = final
	if final != emitted {
		if err := emit(reply); err != nil {
			return fmt.Errorf("emit final snapshot: %w", err)
		}
	}

	if err := s.messageRepo.Create(ctx, t.user); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	if err := s.messageRepo.Create(ctx, reply); err != nil {
		return fmt.Errorf("persist model message: %w", err)
	}
	if err := s.conversations.Touch(ctx, t.user.ConversationID); err != nil {
		logger.Warn("touch conversation failed", zap.Error(err))
	}
	logger.Info("chat turn finished", zap.Int("reply_len", len(final)))
	return nil
}
