package stream

import (
	"strings"
	"sync"
)

// Guard garantiza a lo sumo una Send Session activa por conversacion.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// Acquire reserva la conversacion o devuelve ErrConcurrentSend sin efectos.
func (g *Guard) Acquire(conversationID string) error {
	key := strings.TrimSpace(conversationID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return ErrConcurrentSend
	}
	g.active[key] = struct{}{}
	return nil
}

func (g *Guard) Release(conversationID string) {
	key := strings.TrimSpace(conversationID)
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}

func (g *Guard) Active(conversationID string) bool {
	key := strings.TrimSpace(conversationID)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[key]
	return busy
}
