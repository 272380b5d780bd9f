package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"stream-chat/internal/domain"
)

func TestChatClient_SendMessage(t *testing.T) {
	var got struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.EscapedPath() != "/api/chat/conv%2F1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.EscapedPath())
		}
		if r.Header.Get("Accept") != "application/x-ndjson" {
			t.Errorf("unexpected accept header %q", r.Header.Get("Accept"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"role":"user","content":"hola"}`+"\n")
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL+"/", srv.Client(), nil)
	body, err := c.SendMessage(context.Background(), "conv/1", domain.Message{ID: "u1", Content: "hola"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(raw) != `{"role":"user","content":"hola"}`+"\n" {
		t.Fatalf("unexpected body %q", raw)
	}
	if got.ID != "u1" || got.Content != "hola" {
		t.Fatalf("unexpected request payload %+v", got)
	}
}

func TestChatClient_SendMessageStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":"conversation busy"}`)
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, srv.Client(), nil)
	_, err := c.SendMessage(context.Background(), "c1", domain.Message{Content: "hola"})

	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusConflict {
		t.Fatalf("expected 409 status error, got %v", err)
	}
	if se.Body != `{"error":"conversation busy"}` {
		t.Fatalf("unexpected body %q", se.Body)
	}
}

func TestChatClient_GetChatHistory(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []string
		wantIDs []string
	}{
		{
			name:    "ndjson con ruido",
			body:    "{\"id\":\"1\",\"role\":\"user\",\"content\":\"hola\"}\r\nnot json\n\n{\"id\":2,\"role\":\"model\",\"content\":\"buenas\"}",
			want:    []string{"hola", "buenas"},
			wantIDs: []string{"1", "2"},
		},
		{
			name:    "array json",
			body:    `[{"id":"1","role":"user","content":"hola"},{"role":"model"},{"id":"3","role":"model","content":"chau"}]`,
			want:    []string{"hola", "chau"},
			wantIDs: []string{"1", "3"},
		},
		{
			name: "pagina html",
			body: "<!DOCTYPE html><html><body>Bad Gateway</body></html>",
			want: []string{},
		},
		{
			name: "vacio",
			body: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/chat/c1/history" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewChatClient(srv.URL, srv.Client(), nil)
			msgs, err := c.GetChatHistory(context.Background(), "c1")
			if err != nil {
				t.Fatalf("history failed: %v", err)
			}
			if msgs == nil {
				t.Fatalf("history must never be nil")
			}
			if len(msgs) != len(tt.want) {
				t.Fatalf("expected %d messages, got %+v", len(tt.want), msgs)
			}
			for i, m := range msgs {
				if m.Content != tt.want[i] || m.ConversationID != "c1" {
					t.Fatalf("message %d: unexpected %+v", i, m)
				}
				if tt.wantIDs != nil && m.ID != tt.wantIDs[i] {
					t.Fatalf("message %d: expected id %q, got %q", i, tt.wantIDs[i], m.ID)
				}
			}
		})
	}
}

func TestChatClient_GetChatHistoryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewChatClient(srv.URL, srv.Client(), nil).GetChatHistory(context.Background(), "c1")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestChatClient_Conversations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Conversation{ID: "c9", RoleType: req["role_type"]})
	})
	mux.HandleFunc("GET /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]domain.Conversation{{ID: "c1"}, {ID: "c2"}})
	})
	mux.HandleFunc("GET /api/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "c1" {
			http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.Conversation{ID: "c1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewChatClient(srv.URL, srv.Client(), nil)
	ctx := context.Background()

	created, err := c.CreateConversation(ctx, "amigo")
	if err != nil || created.ID != "c9" || created.RoleType != "amigo" {
		t.Fatalf("create: %+v, %v", created, err)
	}
	list, err := c.ListConversations(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %+v, %v", list, err)
	}
	if _, err := c.GetConversation(ctx, "c1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	var se *StatusError
	if _, err := c.GetConversation(ctx, "nope"); !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
