package stream

import (
	"errors"
	"testing"

	"stream-chat/internal/domain"
)

func TestTranscript_ReplaceKeepsPosition(t *testing.T) {
	tr := NewTranscript([]domain.Message{{Role: "user", Content: "q"}})
	idx := tr.Append(domain.Message{Role: "model", Content: "a", Timestamp: "T1"})

	if err := tr.Replace(idx, domain.Message{ID: "m1", Role: "model", Content: "ab"}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	got, ok := tr.At(idx)
	if !ok || got.Content != "ab" || got.Timestamp != "T1" || got.ID != "m1" {
		t.Fatalf("unexpected message after replace: %+v", got)
	}

	if err := tr.Replace(idx, domain.Message{ID: "otro", Content: "abc", Timestamp: "T2"}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	got, _ = tr.At(idx)
	if got.ID != "m1" || got.Timestamp != "T2" || got.Role != "model" {
		t.Fatalf("id and role must be stable: %+v", got)
	}

	if err := tr.Replace(5, domain.Message{}); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestTranscript_ReplaceDoesNotDuplicateIdentity(t *testing.T) {
	tr := NewTranscript([]domain.Message{
		{ID: "u1", Role: "user", Content: "q"},
		{Role: "model", Content: "a", Timestamp: "T1"},
		{Role: "model", Content: "b", Timestamp: "T2"},
	})

	if err := tr.Replace(2, domain.Message{ID: "u1", Content: "bb", Timestamp: "T1"}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	got, _ := tr.At(2)
	if got.ID != "" || got.Timestamp != "T2" || got.Content != "bb" {
		t.Fatalf("identity of another message was adopted: %+v", got)
	}
}

func TestTranscript_SnapshotIsACopy(t *testing.T) {
	tr := NewTranscript(nil)
	tr.Append(domain.Message{Role: "user", Content: "hola"})
	snap := tr.Snapshot()
	snap.Messages[0].Content = "mutado"

	if m, _ := tr.At(0); m.Content != "hola" {
		t.Fatalf("snapshot must not alias the transcript")
	}
}

func TestTranscript_StatusFlags(t *testing.T) {
	tr := NewTranscript(nil)
	v := tr.Snapshot().Version

	tr.SetLoading(true)
	tr.SetLoading(true)
	if got := tr.Snapshot().Version; got != v+1 {
		t.Fatalf("redundant flag changes must not bump the version: %d", got)
	}

	tr.SetError(errors.New("boom"))
	if tr.Snapshot().Err == nil {
		t.Fatalf("expected error")
	}
	tr.DismissError()
	if tr.Snapshot().Err != nil {
		t.Fatalf("expected error dismissed")
	}
}
