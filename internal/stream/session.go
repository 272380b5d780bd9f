package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stream-chat/internal/domain"
)

const defaultChunkSize = 32 * 1024

// Sender es el colaborador de red: envia el mensaje y devuelve el body del stream NDJSON.
type Sender interface {
	SendMessage(ctx context.Context, conversationID string, msg domain.Message) (io.ReadCloser, error)
}

// Session orquesta un unico envio: mensaje optimista, request, decoder, parser y
// reconciler. No es reutilizable.
type Session struct {
	conversationID string
	sender         Sender
	transcript     *Transcript
	guard          *Guard
	logger         *zap.Logger
	chunkSize      int
	now            func() time.Time
	newID          func() string

	started  atomic.Bool
	consumed atomic.Bool
	rec      *Reconciler
}

func NewSession(conversationID string, sender Sender, transcript *Transcript, guard *Guard, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = NewGuard()
	}
	return &Session{
		conversationID: conversationID,
		sender:         sender,
		transcript:     transcript,
		guard:          guard,
		logger:         logger.With(zap.String("conversation_id", conversationID)),
		chunkSize:      defaultChunkSize,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Start agrega el mensaje optimista de inmediato y devuelve la secuencia perezosa de
// snapshots del transcript. La request sale al empezar a iterar. Un segundo envio
// concurrente sobre la misma conversacion devuelve ErrConcurrentSend sin tocar el transcript.
//
// El caller debe consumir la secuencia o llamar Close: la conversacion queda reservada
// hasta entonces. El contenido se envia tal cual; solo se rechaza si es blanco.
func (s *Session) Start(ctx context.Context, content string) (iter.Seq2[Snapshot, error], error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrSessionConsumed
	}
	if err := s.guard.Acquire(s.conversationID); err != nil {
		s.logger.Warn("concurrent send rejected")
		return nil, err
	}

	optimistic := domain.Message{
		ID:             s.newID(),
		ConversationID: s.conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		Timestamp:      domain.FormatTimestamp(s.now()),
	}
	s.transcript.DismissError()
	floor := s.transcript.Append(optimistic)
	s.transcript.SetLoading(true)
	s.rec = NewReconciler(s.transcript, optimistic, floor, s.logger)

	return func(yield func(Snapshot, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(Snapshot{}, ErrSessionConsumed)
			return
		}
		s.run(ctx, optimistic, yield)
	}, nil
}

// Run consume la secuencia completa llamando onUpdate por cada snapshot y devuelve
// el estado terminal: nil, *TransportError o ErrSessionAborted.
func (s *Session) Run(ctx context.Context, content string, onUpdate func(Snapshot)) error {
	seq, err := s.Start(ctx, content)
	if err != nil {
		return err
	}
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

// Close descarta una secuencia que nunca se va a iterar: libera la conversacion y baja
// Loading. Despues de iterar, o antes de Start, no hace nada.
func (s *Session) Close() error {
	if s.rec == nil || !s.consumed.CompareAndSwap(false, true) {
		return nil
	}
	s.settle()
	s.guard.Release(s.conversationID)
	s.logger.Debug("send session closed before iterating")
	return nil
}

// Reconciler expone el estado de reconciliacion de la sesion (nil antes de Start).
func (s *Session) Reconciler() *Reconciler {
	return s.rec
}

func (s *Session) run(ctx context.Context, optimistic domain.Message, yield func(Snapshot, error) bool) {
	defer s.guard.Release(s.conversationID)
	defer s.settle()

	if !yield(s.current().Snapshot(), nil) {
		return
	}
	if ctx.Err() != nil {
		s.abort(ctx, yield)
		return
	}

	body, err := s.sender.SendMessage(ctx, s.conversationID, optimistic)
	if err != nil {
		if ctx.Err() != nil {
			s.abort(ctx, yield)
			return
		}
		s.fail(newTransportError("send", err), yield)
		return
	}
	defer body.Close()
	// Cerrar el body desbloquea un Read pendiente cuando se aborta la sesion.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	s.current().SetStreaming(true)
	decoder := NewFrameDecoder()
	buf := make([]byte, s.chunkSize)
	for {
		n, readErr := body.Read(buf)
		if ctx.Err() != nil {
			s.abort(ctx, yield)
			return
		}
		if n > 0 {
			if !s.reconcile(ctx, decoder.Feed(buf[:n]), yield) {
				return
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			s.fail(newTransportError("read", readErr), yield)
			return
		}
	}
	if !s.reconcile(ctx, decoder.Flush(), yield) {
		return
	}

	s.settle()
	s.logger.Debug("send session complete", zap.Int("messages", s.current().Len()))
	yield(s.current().Snapshot(), nil)
}

// reconcile aplica las lineas en orden; false si la iteracion debe terminar.
func (s *Session) reconcile(ctx context.Context, lines []string, yield func(Snapshot, error) bool) bool {
	for _, line := range lines {
		if ctx.Err() != nil {
			s.abort(ctx, yield)
			return false
		}
		d := s.rec.ApplyLine(line)
		if !d.Changed() {
			continue
		}
		if !yield(s.current().Snapshot(), nil) {
			return false
		}
	}
	return true
}

func (s *Session) current() *Transcript {
	if s.rec != nil {
		return s.rec.Transcript()
	}
	return s.transcript
}

func (s *Session) settle() {
	t := s.current()
	t.SetStreaming(false)
	t.SetLoading(false)
}

func (s *Session) fail(err *TransportError, yield func(Snapshot, error) bool) {
	s.logger.Warn("send session transport failure", zap.Error(err))
	s.current().SetError(err)
	s.settle()
	yield(s.current().Snapshot(), err)
}

func (s *Session) abort(ctx context.Context, yield func(Snapshot, error) bool) {
	s.logger.Info("send session aborted")
	s.settle()
	yield(s.current().Snapshot(), fmt.Errorf("%w: %w", ErrSessionAborted, context.Cause(ctx)))
}
