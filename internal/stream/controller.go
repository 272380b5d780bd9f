package stream

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"stream-chat/internal/domain"
)

// Backend agrupa lo que el Controller necesita del servidor.
type Backend interface {
	Sender
	GetChatHistory(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// Controller es la fachada que consume la UI: una conversacion abierta, su Transcript,
// submit y abort. Al cambiar de conversacion espera a que la sesion previa termine.
type Controller struct {
	backend Backend
	guard   *Guard
	logger  *zap.Logger

	mu             sync.Mutex
	conversationID string
	transcript     *Transcript
	active         *Session
	cancel         context.CancelFunc
	done           chan struct{}
	last           *Reconciler
}

func NewController(backend Backend, guard *Guard, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = NewGuard()
	}
	return &Controller{
		backend: backend,
		guard:   guard,
		logger:  logger,
	}
}

// Open aborta la sesion activa, espera a que deje de escribir y carga el historial
// de conversationID en un Transcript nuevo.
func (c *Controller) Open(ctx context.Context, conversationID string) error {
	if err := c.abortAndWait(ctx); err != nil {
		return err
	}

	t := NewTranscript(nil)
	t.SetLoading(true)
	c.mu.Lock()
	c.conversationID = conversationID
	c.transcript = t
	c.last = nil
	c.mu.Unlock()

	history, err := c.backend.GetChatHistory(ctx, conversationID)
	if err != nil {
		te := newTransportError("history", err)
		c.logger.Warn("load chat history failed", zap.String("conversation_id", conversationID), zap.Error(err))
		t.SetError(te)
		t.SetLoading(false)
		return te
	}

	c.mu.Lock()
	if c.transcript == t {
		if c.active != nil {
			// Un submit arranco mientras cargaba el historial.
			c.transcript = c.active.Reconciler().Rebase(history)
		} else {
			c.transcript = NewTranscript(history)
		}
	}
	c.mu.Unlock()
	return nil
}

// Submit ejecuta una Send Session y llama onUpdate con cada snapshot. Contenido en blanco
// se ignora. Devuelve ErrConcurrentSend si ya hay un envio activo.
func (c *Controller) Submit(ctx context.Context, content string, onUpdate func(Snapshot)) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	c.mu.Lock()
	if c.transcript == nil {
		c.mu.Unlock()
		return ErrNoConversation
	}
	if c.active != nil {
		c.mu.Unlock()
		return ErrConcurrentSend
	}
	sessCtx, cancel := context.WithCancel(ctx)
	sess := NewSession(c.conversationID, c.backend, c.transcript, c.guard, c.logger)
	seq, err := sess.Start(sessCtx, content)
	if err != nil {
		c.mu.Unlock()
		cancel()
		return err
	}
	done := make(chan struct{})
	c.active, c.cancel, c.done = sess, cancel, done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.active == sess {
			c.last = sess.Reconciler()
			c.active, c.cancel, c.done = nil, nil, nil
		}
		c.mu.Unlock()
		close(done)
		cancel()
	}()

	var last error
	for snap, err := range seq {
		if onUpdate != nil {
			onUpdate(snap)
		}
		if err != nil {
			last = err
		}
	}
	return last
}

// Abort cancela la sesion activa, si la hay. No espera a que termine.
func (c *Controller) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Refresh trae el historial del servidor y lo fusiona con lo visible localmente,
// incluida una sesion en curso, sin duplicar ni retirar mensajes.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	conversationID := c.conversationID
	c.mu.Unlock()
	if c.transcriptOrNil() == nil {
		return ErrNoConversation
	}

	history, err := c.backend.GetChatHistory(ctx, conversationID)
	if err != nil {
		return newTransportError("history", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conversationID != conversationID {
		return nil
	}
	switch {
	case c.active != nil:
		c.transcript = c.active.Reconciler().Rebase(history)
	case c.last != nil && c.last.Transcript() == c.transcript:
		c.transcript = c.last.Rebase(history)
	default:
		t := NewTranscript(history)
		t.copyStatus(c.transcript)
		c.transcript = t
	}
	return nil
}

// Snapshot devuelve la vista actual para render. Vacia si no hay conversacion abierta.
func (c *Controller) Snapshot() Snapshot {
	if t := c.transcriptOrNil(); t != nil {
		return t.Snapshot()
	}
	return Snapshot{}
}

func (c *Controller) DismissError() {
	if t := c.transcriptOrNil(); t != nil {
		t.DismissError()
	}
}

func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Controller) transcriptOrNil() *Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

func (c *Controller) abortAndWait(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
