package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"stream-chat/internal/domain"
	"stream-chat/internal/stream"
)

const maxErrorBody = 4 << 10

// StatusError representa una respuesta HTTP no exitosa del backend.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http status %d: %s", e.Op, e.Status, e.Body)
}

// ChatClient habla con el backend de chat. Implementa stream.Backend.
type ChatClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient arma un http.Client sin timeout global: un stream puede durar lo que
// tarde el modelo. Solo se limita la espera de los headers de respuesta.
func NewHTTPClient(responseHeaderTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = responseHeaderTimeout
	return &http.Client{Transport: transport}
}

func NewChatClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *ChatClient {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(30 * time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}
}

type sendRequest struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

// SendMessage envia el mensaje y devuelve el body NDJSON sin consumir. El caller lo cierra.
func (c *ChatClient) SendMessage(ctx context.Context, conversationID string, msg domain.Message) (io.ReadCloser, error) {
	bodyBytes, err := json.Marshal(sendRequest{ID: msg.ID, Content: msg.Content})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(conversationID), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.statusError("send message", resp)
	}
	return resp.Body, nil
}

// GetChatHistory trae el historial completo. Acepta NDJSON o un array JSON; si el
// servidor responde HTML (pagina de error) devuelve historial vacio.
func (c *ChatClient) GetChatHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.chatURL(conversationID)+"/history", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.statusError("chat history", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return c.decodeHistory(conversationID, body)
}

func (c *ChatClient) decodeHistory(conversationID string, body []byte) ([]domain.Message, error) {
	trimmed := strings.TrimSpace(string(body))
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		c.logger.Warn("chat history returned html instead of json", zap.String("conversation_id", conversationID))
		return []domain.Message{}, nil
	}

	messages := []domain.Message{}
	if strings.HasPrefix(trimmed, "[") {
		var raw []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
		for _, item := range raw {
			messages = c.appendRecord(messages, conversationID, string(item))
		}
		return messages, nil
	}

	for _, line := range stream.DecodeLines(body) {
		messages = c.appendRecord(messages, conversationID, line)
	}
	return messages, nil
}

func (c *ChatClient) appendRecord(messages []domain.Message, conversationID, line string) []domain.Message {
	res := stream.ParseLine(line)
	rec, ok := res.(stream.Record)
	if !ok {
		c.logger.Debug("history record skipped", zap.Error(stream.AsFailure(res)))
		return messages
	}
	rec.Message.ConversationID = conversationID
	return append(messages, rec.Message)
}

// ListConversations devuelve las conversaciones del backend.
func (c *ChatClient) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatClient) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var out domain.Conversation
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/conversations/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *ChatClient) CreateConversation(ctx context.Context, roleType string) (domain.Conversation, error) {
	var out domain.Conversation
	payload := map[string]string{"role_type": roleType}
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/conversations", payload, &out)
	return out, err
}

func (c *ChatClient) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.statusError(method+" "+endpoint, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *ChatClient) chatURL(conversationID string) string {
	return c.baseURL + "/api/chat/" + url.PathEscape(conversationID)
}

func (c *ChatClient) statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.logger.Warn("chat backend error",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.String("body", string(snippet)),
	)
	return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

var _ stream.Backend = (*ChatClient)(nil)
