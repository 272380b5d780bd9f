package stream

import (
	"errors"
	"testing"

	"stream-chat/internal/domain"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantMsg   *domain.Message
		wantErr   error
		wantField string
	}{
		{
			name:    "registro completo",
			line:    `{"role":"model","content":"Hola","timestamp":"2025-01-01T12:00:00Z","id":"m1"}`,
			wantMsg: &domain.Message{ID: "m1", Role: "model", Content: "Hola", Timestamp: "2025-01-01T12:00:00Z"},
		},
		{
			name:    "id numerico",
			line:    ` {"role":"user","content":"x","id":42} `,
			wantMsg: &domain.Message{ID: "42", Role: "user", Content: "x"},
		},
		{
			name:    "contenido vacio es valido",
			line:    `{"role":"model","content":""}`,
			wantMsg: &domain.Message{Role: "model", Content: ""},
		},
		{
			name:    "rol desconocido se conserva",
			line:    `{"role":"tool","content":"{}"}`,
			wantMsg: &domain.Message{Role: "tool", Content: "{}"},
		},
		{name: "texto plano", line: "not json", wantErr: ErrNotJSON},
		{name: "html", line: "<html><body>502</body></html>", wantErr: ErrNotJSON},
		{name: "array", line: `[{"role":"user"}]`, wantErr: ErrNotJSON},
		{name: "llaves rotas", line: `{"role":"user",}`, wantErr: ErrMalformedJSON},
		{name: "tipo invalido", line: `{"role":1,"content":"x"}`, wantErr: ErrMalformedJSON},
		{name: "id booleano", line: `{"role":"user","content":"x","id":true}`, wantErr: ErrMalformedJSON},
		{name: "sin role", line: `{"content":"x"}`, wantErr: ErrMissingField, wantField: "role"},
		{name: "sin content", line: `{"role":"user"}`, wantErr: ErrMissingField, wantField: "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseLine(tt.line)
			failure := AsFailure(res)

			if tt.wantMsg != nil {
				rec, ok := res.(Record)
				if !ok {
					t.Fatalf("expected Record, got %T (%v)", res, failure)
				}
				if rec.Message != *tt.wantMsg {
					t.Fatalf("expected %+v, got %+v", *tt.wantMsg, rec.Message)
				}
				if failure != nil {
					t.Fatalf("record must not be a failure: %v", failure)
				}
				return
			}

			if !errors.Is(failure, tt.wantErr) {
				t.Fatalf("expected %v, got %T (%v)", tt.wantErr, res, failure)
			}
			if tt.wantField != "" {
				mf, ok := res.(MissingField)
				if !ok || mf.Field != tt.wantField {
					t.Fatalf("expected missing field %q, got %#v", tt.wantField, res)
				}
			}
		})
	}
}

func TestMalformedJSON_WrapsDecodeError(t *testing.T) {
	res := ParseLine(`{"role":`)
	mj, ok := res.(MalformedJSON)
	if !ok {
		t.Fatalf("expected MalformedJSON, got %T", res)
	}
	if mj.Err == nil || !errors.Is(mj, mj.Err) {
		t.Fatalf("expected decode error to be wrapped, got %v", mj.Err)
	}
}
