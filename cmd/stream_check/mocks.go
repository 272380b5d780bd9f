package main

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"stream-chat/internal/domain"
	"stream-chat/internal/llm"
)

// --- REPOSITORIOS EN MEMORIA ---

type memoryMessageRepo struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func newMemoryMessageRepo() *memoryMessageRepo { return &memoryMessageRepo{} }

func (m *memoryMessageRepo) Create(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memoryMessageRepo) ListByConversationID(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, v := range m.msgs {
		if v.ConversationID == conversationID {
			out = append(out, v)
		}
	}
	return out, nil
}

type memoryConversationRepo struct {
	mu    sync.Mutex
	items map[string]domain.Conversation
}

func newMemoryConversationRepo() *memoryConversationRepo {
	return &memoryConversationRepo{items: make(map[string]domain.Conversation)}
}

func (m *memoryConversationRepo) Create(_ context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[c.ID] = c
	return nil
}

func (m *memoryConversationRepo) GetByID(_ context.Context, id string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return domain.Conversation{}, pgx.ErrNoRows
	}
	return c, nil
}

func (m *memoryConversationRepo) List(_ context.Context) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Conversation, 0, len(m.items))
	for _, c := range m.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memoryConversationRepo) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.items[id]; ok {
		c.UpdatedAt = at
		m.items[id] = c
	}
	return nil
}

// scriptedLLM devuelve los chunks del escenario en curso.
type scriptedLLM struct {
	mu     sync.Mutex
	chunks []string
	delay  time.Duration
}

func (s *scriptedLLM) script(chunks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = chunks
}

func (s *scriptedLLM) Stream(ctx context.Context, _ []llm.ChatMessage, onText func(string) error) (string, error) {
	s.mu.Lock()
	chunks := append([]string(nil), s.chunks...)
	s.mu.Unlock()

	var sb strings.Builder
	for _, c := range chunks {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case <-time.After(s.delay):
		}
		sb.WriteString(c)
		if err := onText(sb.String()); err != nil {
			return sb.String(), err
		}
	}
	if sb.Len() == 0 {
		return "", llm.ErrEmptyResponse
	}
	return sb.String(), nil
}
