package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// captureServer records the last request body and replies with a fixed
// completion.
func captureServer(t *testing.T, reply string) (*httptest.Server, *map[string]json.RawMessage) {
	t.Helper()
	var captured map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}, "finish_reason": "stop"},
			},
		})
	}))
	return srv, &captured
}

func TestGenerateInjectsSystemInstruction(t *testing.T) {
	srv, captured := captureServer(t, "hello")
	defer srv.Close()

	p := NewGroq(GroqConfig{APIKey: "k", BaseURL: srv.URL, Model: "test-model"})
	tools := []ToolInfo{{Name: "search", Description: "Searches"}}
	got, err := p.Generate(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, tools)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("reply = %q", got)
	}

	var msgs []chatMessage
	if err := json.Unmarshal((*captured)["messages"], &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "`search`") {
		t.Errorf("first wire message = %+v, want system instruction naming search", msgs[0])
	}
	if msgs[1].Role != "user" || msgs[1].Content != "hi" {
		t.Errorf("second wire message = %+v", msgs[1])
	}
}

func TestGenerateNeverSendsNativeTools(t *testing.T) {
	srv, captured := captureServer(t, "ok")
	defer srv.Close()

	p := NewGroq(GroqConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	_, err := p.Generate(context.Background(),
		[]Message{{Role: RoleUser, Content: "q"}},
		[]ToolInfo{{Name: "search"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := (*captured)["tools"]; ok {
		t.Error("request carries the native tools parameter")
	}
	if _, ok := (*captured)["tool_choice"]; ok {
		t.Error("request carries tool_choice")
	}
}

func TestGenerateMapsToolRoleToUser(t *testing.T) {
	srv, captured := captureServer(t, "ok")
	defer srv.Close()

	p := NewGroq(GroqConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	history := []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: `<function=search{"query":"q"}>`},
		{Role: RoleTool, Content: "Tool 'search' returned: 42", ToolCallID: "id-1"},
	}
	if _, err := p.Generate(context.Background(), history, nil); err != nil {
		t.Fatal(err)
	}

	var msgs []chatMessage
	if err := json.Unmarshal((*captured)["messages"], &msgs); err != nil {
		t.Fatal(err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" {
		t.Errorf("tool result sent with role %q, want user", last.Role)
	}
	if last.Content != "Tool 'search' returned: 42" {
		t.Errorf("tool result content = %q", last.Content)
	}
}

func TestGenerateKeepsExistingSystemMessage(t *testing.T) {
	srv, captured := captureServer(t, "ok")
	defer srv.Close()

	p := NewGroq(GroqConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	history := []Message{
		{Role: RoleSystem, Content: "custom persona"},
		{Role: RoleUser, Content: "q"},
	}
	if _, err := p.Generate(context.Background(), history, nil); err != nil {
		t.Fatal(err)
	}

	var msgs []chatMessage
	if err := json.Unmarshal((*captured)["messages"], &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2 (no duplicate system turn)", len(msgs))
	}
	if msgs[0].Content != "custom persona" {
		t.Errorf("system message = %q", msgs[0].Content)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewGroq(GroqConfig{APIKey: "bad", BaseURL: srv.URL, Model: "m"})
	_, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "Invalid API Key") {
		t.Errorf("err = %v, want API error surfaced", err)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewGroq(GroqConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	_, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("err = %v, want no-choices error", err)
	}
}

func TestGenerateUnreachableServer(t *testing.T) {
	p := NewGroq(GroqConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1", Model: "m"})
	_, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil)
	if err == nil {
		t.Error("want transport error for unreachable endpoint")
	}
}
