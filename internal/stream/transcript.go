package stream

import (
	"fmt"
	"sync"

	"stream-chat/internal/domain"
)

// Snapshot es la vista de solo lectura que consume la capa de render.
type Snapshot struct {
	Messages  []domain.Message
	Loading   bool
	Streaming bool
	Err       error
	Version   uint64
}

// Transcript guarda la secuencia ordenada de mensajes de una conversacion.
// Solo admite append y replace-at-index para que el diff del render sea estable.
type Transcript struct {
	mu        sync.RWMutex
	messages  []domain.Message
	loading   bool
	streaming bool
	err       error
	version   uint64
}

// NewTranscript crea un transcript a partir de un historial ya cargado.
func NewTranscript(history []domain.Message) *Transcript {
	msgs := make([]domain.Message, len(history))
	copy(msgs, history)
	return &Transcript{messages: msgs}
}

// Append agrega al final y devuelve la posicion asignada.
func (t *Transcript) Append(m domain.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
	t.version++
	return len(t.messages) - 1
}

// Replace actualiza content y timestamp del mensaje en idx sin moverlo.
// Un timestamp vacio conserva el anterior; un id solo se adopta si faltaba.
// Ni el id ni el timestamp se adoptan si dejarian a idx con la identidad de otro mensaje.
func (t *Transcript) Replace(idx int, m domain.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.messages) {
		return fmt.Errorf("replace index %d out of range [0,%d)", idx, len(t.messages))
	}
	cur := t.messages[idx]
	cur.Content = m.Content
	if cur.ID == "" && m.ID != "" && !t.taken(idx, func(e domain.Message) bool { return e.ID == m.ID }) {
		cur.ID = m.ID
	}
	if m.Timestamp != "" {
		next := cur
		next.Timestamp = m.Timestamp
		if !t.taken(idx, func(e domain.Message) bool { return SameIdentity(e, next) }) {
			cur = next
		}
	}
	t.messages[idx] = cur
	t.version++
	return nil
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// At devuelve el mensaje en idx; false si esta fuera de rango.
func (t *Transcript) At(idx int) (domain.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.messages) {
		return domain.Message{}, false
	}
	return t.messages[idx], true
}

// Messages devuelve una copia de los mensajes actuales.
func (t *Transcript) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return Snapshot{
		Messages:  out,
		Loading:   t.loading,
		Streaming: t.streaming,
		Err:       t.err,
		Version:   t.version,
	}
}

func (t *Transcript) SetLoading(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loading != v {
		t.loading = v
		t.version++
	}
}

func (t *Transcript) SetStreaming(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.streaming != v {
		t.streaming = v
		t.version++
	}
}

// SetError publica un error visible para el usuario. Los mensajes no se tocan.
func (t *Transcript) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	t.version++
}

func (t *Transcript) DismissError() {
	t.SetError(nil)
}

// find busca hacia atras, desde el final hasta from (inclusive), el primer indice que cumple match.
func (t *Transcript) find(from int, match func(domain.Message) bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	for i := len(t.messages) - 1; i >= from; i-- {
		if match(t.messages[i]) {
			return i
		}
	}
	return -1
}

// taken indica si algun mensaje distinto de idx cumple match. Requiere el lock tomado.
func (t *Transcript) taken(idx int, match func(domain.Message) bool) bool {
	for i, e := range t.messages {
		if i != idx && match(e) {
			return true
		}
	}
	return false
}
