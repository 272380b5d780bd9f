package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"stream-chat/internal/domain"
)

// fakeSender simula el backend: respond arma el body NDJSON a partir del mensaje enviado.
type fakeSender struct {
	mu      sync.Mutex
	respond func(msg domain.Message) io.ReadCloser
	err     error
	sent    []domain.Message
	history []domain.Message
	histErr error
}

func (f *fakeSender) SendMessage(_ context.Context, _ string, msg domain.Message) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return nil, f.err
	}
	return f.respond(msg), nil
}

func (f *fakeSender) GetChatHistory(_ context.Context, _ string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	out := make([]domain.Message, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// brokenBody entrega data y despues falla con err.
type brokenBody struct {
	data []byte
	err  error
}

func (b *brokenBody) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, b.err
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *brokenBody) Close() error { return nil }

func ndjsonBody(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func echoLine(msg domain.Message) string {
	return fmt.Sprintf(`{"id":%q,"role":"user","content":%q,"timestamp":"2025-01-01T12:00:00Z"}`, msg.ID, msg.Content)
}

func newTestSession(conversationID string, sender Sender, tr *Transcript, guard *Guard) *Session {
	s := NewSession(conversationID, sender, tr, guard, nil)
	s.newID = func() string { return "u-local" }
	s.now = func() time.Time { return time.Date(2025, 1, 1, 11, 59, 59, 0, time.UTC) }
	return s
}

func TestSession_StreamsIntoTranscript(t *testing.T) {
	sender := &fakeSender{respond: func(msg domain.Message) io.ReadCloser {
		return ndjsonBody(
			echoLine(msg),
			`{"id":"m1","role":"model","content":"Ho","timestamp":"2025-01-01T12:00:01Z"}`,
			`{"id":"m1","role":"model","content":"Hola","timestamp":"2025-01-01T12:00:01Z"}`,
		)
	}}
	tr := NewTranscript(nil)
	guard := NewGuard()
	s := newTestSession("c1", sender, tr, guard)
	s.chunkSize = 7

	seq, err := s.Start(context.Background(), "  hola  ")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// El optimista es visible antes de iterar.
	if msgs := tr.Messages(); len(msgs) != 1 || msgs[0].Content != "  hola  " || msgs[0].ID != "u-local" {
		t.Fatalf("expected optimistic message, got %+v", msgs)
	}
	if sender.calls() != 0 {
		t.Fatalf("request must not be sent before iterating")
	}

	var snaps []Snapshot
	for snap, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		snaps = append(snaps, snap)
	}

	if len(snaps) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(snaps))
	}
	if !snaps[0].Loading || len(snaps[0].Messages) != 1 {
		t.Fatalf("first snapshot should be loading with the optimistic message: %+v", snaps[0])
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Version <= snaps[i-1].Version {
			t.Fatalf("snapshot versions must grow: %d then %d", snaps[i-1].Version, snaps[i].Version)
		}
	}

	final := snaps[len(snaps)-1]
	if final.Loading || final.Streaming || final.Err != nil {
		t.Fatalf("final snapshot should be settled: %+v", final)
	}
	if len(final.Messages) != 2 || final.Messages[1].Content != "Hola" || final.Messages[1].ID != "m1" {
		t.Fatalf("unexpected final messages: %+v", final.Messages)
	}
	if sender.sent[0].ID != "u-local" || sender.sent[0].Content != "  hola  " {
		t.Fatalf("unexpected sent message: %+v", sender.sent[0])
	}
	if guard.Active("c1") {
		t.Fatalf("guard must be released after completion")
	}
}

func TestSession_ReadFailureKeepsPartialContent(t *testing.T) {
	readErr := errors.New("connection reset by peer")
	sender := &fakeSender{respond: func(msg domain.Message) io.ReadCloser {
		return &brokenBody{
			data: []byte(echoLine(msg) + "\n" + `{"id":"m1","role":"model","content":"parcial"}` + "\n" + `{"id":"m1","ro`),
			err:  readErr,
		}
	}}
	tr := NewTranscript([]domain.Message{{ID: "h1", Role: "user", Content: "antes"}})
	s := newTestSession("c1", sender, tr, nil)

	err := s.Run(context.Background(), "hola", nil)

	var te *TransportError
	if !errors.As(err, &te) || te.Op != "read" || !te.Retryable() {
		t.Fatalf("expected retryable read transport error, got %v", err)
	}
	if !errors.Is(err, readErr) {
		t.Fatalf("transport error should wrap the cause")
	}

	snap := tr.Snapshot()
	if snap.Err == nil || snap.Loading || snap.Streaming {
		t.Fatalf("expected visible error and settled flags: %+v", snap)
	}
	if len(snap.Messages) != 3 || snap.Messages[2].Content != "parcial" {
		t.Fatalf("partial content must stay visible: %+v", snap.Messages)
	}
}

func TestSession_SendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("dial tcp: connection refused")}
	tr := NewTranscript(nil)
	s := newTestSession("c1", sender, tr, nil)

	var updates int
	err := s.Run(context.Background(), "hola", func(Snapshot) { updates++ })

	var te *TransportError
	if !errors.As(err, &te) || te.Op != "send" {
		t.Fatalf("expected send transport error, got %v", err)
	}
	if updates != 2 {
		t.Fatalf("expected optimistic and error snapshots, got %d", updates)
	}
	msgs := tr.Messages()
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("optimistic message must remain: %+v", msgs)
	}
}

func TestSession_AbortReleasesReader(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	writerDone := make(chan struct{})
	sender := &fakeSender{respond: func(domain.Message) io.ReadCloser {
		go func() {
			defer close(writerDone)
			_, _ = pw.Write([]byte(`{"id":"m1","role":"model","content":"Hel"}` + "\n"))
		}()
		return pr
	}}
	tr := NewTranscript(nil)
	guard := NewGuard()
	s := newTestSession("c1", sender, tr, guard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seq, err := s.Start(ctx, "hola")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var last error
	for snap, err := range seq {
		if len(snap.Messages) == 2 && err == nil {
			cancel()
		}
		if err != nil {
			last = err
		}
	}
	<-writerDone

	if !errors.Is(last, ErrSessionAborted) || !errors.Is(last, context.Canceled) {
		t.Fatalf("expected aborted error, got %v", last)
	}
	if guard.Active("c1") {
		t.Fatalf("guard must be released after abort")
	}

	version := tr.Snapshot().Version
	if _, err := pw.Write([]byte("{}\n")); err == nil {
		t.Fatalf("reader should be closed after abort")
	}
	snap := tr.Snapshot()
	if snap.Version != version || snap.Loading || snap.Streaming {
		t.Fatalf("no transitions expected after abort: %+v", snap)
	}
	if len(snap.Messages) != 2 || snap.Messages[1].Content != "Hel" {
		t.Fatalf("partial content must stay visible: %+v", snap.Messages)
	}
}

func TestSession_AbortBeforeRequest(t *testing.T) {
	sender := &fakeSender{respond: func(domain.Message) io.ReadCloser { return ndjsonBody() }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestSession("c1", sender, NewTranscript(nil), nil).Run(ctx, "hola", nil)
	if !errors.Is(err, ErrSessionAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	if sender.calls() != 0 {
		t.Fatalf("no request expected after abort")
	}
}

func TestSession_ConcurrentStartRejected(t *testing.T) {
	sender := &fakeSender{respond: func(domain.Message) io.ReadCloser { return ndjsonBody() }}
	tr := NewTranscript(nil)
	guard := NewGuard()

	first := newTestSession("c1", sender, tr, guard)
	seq, err := first.Start(context.Background(), "uno")
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	second := newTestSession(" c1 ", sender, tr, guard)
	if _, err := second.Start(context.Background(), "dos"); !errors.Is(err, ErrConcurrentSend) {
		t.Fatalf("expected ErrConcurrentSend, got %v", err)
	}
	if tr.Len() != 1 {
		t.Fatalf("rejected start must not touch the transcript, got %+v", tr.Messages())
	}

	for range seq {
	}
	if _, err := newTestSession("c1", sender, tr, guard).Start(context.Background(), "tres"); err != nil {
		t.Fatalf("start after release failed: %v", err)
	}
}

func TestSession_NotRestartable(t *testing.T) {
	sender := &fakeSender{respond: func(domain.Message) io.ReadCloser { return ndjsonBody() }}
	s := newTestSession("c1", sender, NewTranscript(nil), nil)

	seq, err := s.Start(context.Background(), "hola")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for range seq {
	}

	var second error
	for _, err := range seq {
		second = err
	}
	if !errors.Is(second, ErrSessionConsumed) {
		t.Fatalf("expected ErrSessionConsumed on second iteration, got %v", second)
	}
	if _, err := s.Start(context.Background(), "otra"); !errors.Is(err, ErrSessionConsumed) {
		t.Fatalf("expected ErrSessionConsumed on second start, got %v", err)
	}
	if sender.calls() != 1 {
		t.Fatalf("expected a single request, got %d", sender.calls())
	}
}

func TestSession_CloseWithoutIterating(t *testing.T) {
	sender := &fakeSender{respond: func(domain.Message) io.ReadCloser { return ndjsonBody() }}
	tr := NewTranscript(nil)
	guard := NewGuard()
	s := newTestSession("c1", sender, tr, guard)

	seq, err := s.Start(context.Background(), "hola")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !guard.Active("c1") || !tr.Snapshot().Loading {
		t.Fatalf("start should reserve the conversation and set loading")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if guard.Active("c1") {
		t.Fatalf("close must release the conversation")
	}
	if tr.Snapshot().Loading {
		t.Fatalf("close must clear loading")
	}

	var iterErr error
	for _, err := range seq {
		iterErr = err
	}
	if !errors.Is(iterErr, ErrSessionConsumed) {
		t.Fatalf("expected ErrSessionConsumed after close, got %v", iterErr)
	}
	if sender.calls() != 0 {
		t.Fatalf("closed session must not send, got %d requests", sender.calls())
	}
	if _, err := newTestSession("c1", sender, tr, guard).Start(context.Background(), "otra"); err != nil {
		t.Fatalf("start after close failed: %v", err)
	}
}

func TestSession_EmptyContent(t *testing.T) {
	tr := NewTranscript(nil)
	s := newTestSession("c1", &fakeSender{}, tr, nil)
	if _, err := s.Start(context.Background(), " \n\t"); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if tr.Len() != 0 {
		t.Fatalf("transcript must stay empty")
	}
}
