package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrConversationBusy = errors.New("conversation already has a message in flight")

// SendLock reserva una conversacion mientras se genera una respuesta.
// Acquire devuelve ErrConversationBusy si ya esta tomada.
type SendLock interface {
	Acquire(ctx context.Context, conversationID string) (release func(), err error)
}

type memorySendLock struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
}

// NewMemorySendLock sirve para una sola replica. Las reservas vencen tras ttl por si
// un handler muere sin liberar.
func NewMemorySendLock(ttl time.Duration) SendLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &memorySendLock{
		ttl:   ttl,
		items: make(map[string]time.Time),
	}
}

func (l *memorySendLock) Acquire(_ context.Context, conversationID string) (func(), error) {
	key := strings.TrimSpace(conversationID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.items[key]; ok && time.Now().UTC().Before(exp) {
		return nil, ErrConversationBusy
	}
	expiry := time.Now().UTC().Add(l.ttl)
	l.items[key] = expiry
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.items[key]; ok && cur.Equal(expiry) {
			delete(l.items, key)
		}
	}, nil
}

// Borra la clave solo si sigue siendo nuestra.
const redisReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type redisLocker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisSendLock struct {
	client redisLocker
	ttl    time.Duration
	prefix string
}

// NewRedisSendLock comparte la reserva entre replicas del backend.
func NewRedisSendLock(client *redis.Client, ttl time.Duration) SendLock {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &redisSendLock{
		client: client,
		ttl:    ttl,
		prefix: "chat:send:",
	}
}

func (l *redisSendLock) Acquire(ctx context.Context, conversationID string) (func(), error) {
	key := l.prefix + strings.TrimSpace(conversationID)
	token := uuid.NewString()

	ctxSet, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	ok, err := l.client.SetNX(ctxSet, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConversationBusy
	}

	return func() {
		ctxDel, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_ = l.client.Eval(ctxDel, redisReleaseScript, []string{key}, token).Err()
	}, nil
}
