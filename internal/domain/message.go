package domain

import "time"

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message es la unidad atomica del transcript y tambien el registro del wire NDJSON.
// Cuando ID viene informado es la identidad autoritativa del mensaje.
type Message struct {
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"-"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// FormatTimestamp serializa un instante en ISO-8601 (UTC) para el campo timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp interpreta un timestamp ISO-8601. Devuelve false si no es parseable.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
