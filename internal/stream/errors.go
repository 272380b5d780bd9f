package stream

import (
	"errors"
	"fmt"
)

var (
	ErrConcurrentSend  = errors.New("conversation already has an active send session")
	ErrSessionAborted  = errors.New("send session aborted")
	ErrSessionConsumed = errors.New("send session already consumed")
	ErrEmptyContent    = errors.New("empty message content")
	ErrNoConversation  = errors.New("no conversation open")
)

// TransportError representa un fallo de red: la request fallo o el stream se corto.
// Siempre es reintentable y nunca revierte lo ya reconciliado.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable indica al caller que el envio puede repetirse.
func (e *TransportError) Retryable() bool { return true }

func newTransportError(op string, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Op: op, Err: err}
}
