package llm

import (
	"context"
	"strings"
)

// MockClient permite tests sin llamar a un LLM real. Emite Chunks en orden.
type MockClient struct {
	Chunks []string
	Err    error

	LastMessages []ChatMessage
}

func (m *MockClient) Stream(ctx context.Context, messages []ChatMessage, onText func(string) error) (string, error) {
	m.LastMessages = messages
	var sb strings.Builder
	for _, chunk := range m.Chunks {
		if err := ctx.Err(); err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
		if onText != nil {
			if err := onText(sb.String()); err != nil {
				return sb.String(), err
			}
		}
	}
	if m.Err != nil {
		return sb.String(), m.Err
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
