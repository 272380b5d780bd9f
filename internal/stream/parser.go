package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"stream-chat/internal/domain"
)

var (
	ErrNotJSON       = errors.New("line is not a json record")
	ErrMalformedJSON = errors.New("malformed json record")
	ErrMissingField  = errors.New("json record missing required field")
)

// ParseResult es el resultado cerrado de parsear una linea: Record, NotJSON,
// MalformedJSON o MissingField. El metodo no exportado impide otras variantes.
type ParseResult interface {
	parseResult()
}

// Record es una linea valida convertida en mensaje.
type Record struct {
	Message domain.Message
}

// NotJSON: la linea no tiene forma de objeto JSON (ruido del transporte, HTML, etc).
type NotJSON struct {
	Line string
}

// MalformedJSON: parece un objeto pero no decodifica.
type MalformedJSON struct {
	Line string
	Err  error
}

// MissingField: objeto valido sin role o content.
type MissingField struct {
	Line  string
	Field string
}

func (Record) parseResult()        {}
func (NotJSON) parseResult()       {}
func (MalformedJSON) parseResult() {}
func (MissingField) parseResult()  {}

func (f NotJSON) Error() string { return ErrNotJSON.Error() }
func (f NotJSON) Unwrap() error { return ErrNotJSON }

func (f MalformedJSON) Error() string { return fmt.Sprintf("%s: %v", ErrMalformedJSON, f.Err) }
func (f MalformedJSON) Unwrap() []error {
	return []error{ErrMalformedJSON, f.Err}
}

func (f MissingField) Error() string { return fmt.Sprintf("%s: %s", ErrMissingField, f.Field) }
func (f MissingField) Unwrap() error { return ErrMissingField }

// AsFailure devuelve la variante de fallo como error, o nil si es un Record.
func AsFailure(r ParseResult) error {
	switch v := r.(type) {
	case NotJSON:
		return v
	case MalformedJSON:
		return v
	case MissingField:
		return v
	default:
		return nil
	}
}

type wireRecord struct {
	Role      *string         `json:"role"`
	Content   *string         `json:"content"`
	Timestamp *string         `json:"timestamp"`
	ID        json.RawMessage `json:"id"`
}

// ParseLine convierte una linea completa en un ParseResult. Nunca falla de forma fatal.
func ParseLine(line string) ParseResult {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return NotJSON{Line: line}
	}

	var rec wireRecord
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return MalformedJSON{Line: line, Err: err}
	}
	if rec.Role == nil {
		return MissingField{Line: line, Field: "role"}
	}
	if rec.Content == nil {
		return MissingField{Line: line, Field: "content"}
	}

	id, err := parseRecordID(rec.ID)
	if err != nil {
		return MalformedJSON{Line: line, Err: err}
	}

	msg := domain.Message{
		ID:      id,
		Role:    *rec.Role,
		Content: *rec.Content,
	}
	if rec.Timestamp != nil {
		msg.Timestamp = *rec.Timestamp
	}
	return Record{Message: msg}
}

// parseRecordID acepta ids string o numericos (algunos backends usan autoincrement).
func parseRecordID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id must be string or number: %w", err)
	}
	return n.String(), nil
}
