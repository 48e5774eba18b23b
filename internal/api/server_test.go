package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/tachikoma/internal/agent"
	"github.com/bdobrica/tachikoma/internal/llm"
	"github.com/bdobrica/tachikoma/internal/mcp"
)

// stubAgent answers every query with a fixed two-message conversation.
type stubAgent struct {
	tools    []mcp.Tool
	toolsErr error
	lastQry  string
}

var _ QueryAgent = (*stubAgent)(nil)

func (s *stubAgent) ProcessQuery(ctx context.Context, query string) agent.Conversation {
	s.lastQry = query
	conv := agent.NewConversation()
	conv.Append(llm.Message{Role: llm.RoleUser, Content: query})
	conv.Append(llm.Message{Role: llm.RoleAssistant, Content: "The answer is 42."})
	return conv
}

func (s *stubAgent) Tools(ctx context.Context) ([]mcp.Tool, error) {
	if s.toolsErr != nil {
		return nil, s.toolsErr
	}
	return s.tools, nil
}

func newTestServer(t *testing.T, h Handlers) *httptest.Server {
	t.Helper()
	if h.Name == "" {
		h.Name = "tachikoma"
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	srv := httptest.NewServer(New(":0", h).TestHandler())
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryHappyPath(t *testing.T) {
	ag := &stubAgent{}
	srv := newTestServer(t, Handlers{Agent: ag})

	resp, err := http.Post(srv.URL+"/query", "application/json",
		strings.NewReader(`{"query":"what is the answer?"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var qr QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		t.Fatal(err)
	}
	if qr.ConversationID == "" {
		t.Error("conversation_id missing")
	}
	if len(qr.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(qr.Messages))
	}
	if qr.Messages[0].Role != "user" || qr.Messages[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", qr.Messages[0].Role, qr.Messages[1].Role)
	}
	if ag.lastQry != "what is the answer?" {
		t.Errorf("agent received %q", ag.lastQry)
	}
}

func TestQueryRejectsEmptyAndBadInput(t *testing.T) {
	srv := newTestServer(t, Handlers{Agent: &stubAgent{}})

	for _, body := range []string{`{"query":""}`, `{"query":"   "}`, `not json`} {
		resp, err := http.Post(srv.URL+"/query", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestQueryMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Handlers{Agent: &stubAgent{}})
	resp, err := http.Get(srv.URL + "/query")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestToolsEndpoint(t *testing.T) {
	ag := &stubAgent{tools: []mcp.Tool{
		{Name: "search", Description: "Searches the web", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}}
	srv := newTestServer(t, Handlers{Agent: ag})

	resp, err := http.Get(srv.URL + "/tools")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var tr ToolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatal(err)
	}
	if len(tr.Tools) != 1 || tr.Tools[0].Name != "search" {
		t.Errorf("tools = %+v", tr.Tools)
	}
	if string(tr.Tools[0].InputSchema) != `{"type":"object"}` {
		t.Errorf("input_schema = %s", tr.Tools[0].InputSchema)
	}
}

func TestToolsEndpointTransportDown(t *testing.T) {
	ag := &stubAgent{toolsErr: errors.New("process exited")}
	srv := newTestServer(t, Handlers{Agent: ag})

	resp, err := http.Get(srv.URL + "/tools")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestHealthAndStatus(t *testing.T) {
	ag := &stubAgent{tools: []mcp.Tool{{Name: "search"}, {Name: "fetch"}}}
	srv := newTestServer(t, Handlers{Agent: ag, Model: "llama-3.1-8b-instant"})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var hr HealthResponse
	json.NewDecoder(resp.Body).Decode(&hr)
	resp.Body.Close()
	if hr.Status != "ok" || hr.Name != "tachikoma" {
		t.Errorf("health = %+v", hr)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var sr StatusResponse
	json.NewDecoder(resp.Body).Decode(&sr)
	resp.Body.Close()
	if sr.Model != "llama-3.1-8b-instant" || sr.Tools != 2 {
		t.Errorf("status = %+v", sr)
	}
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(t, Handlers{Agent: &stubAgent{}, Token: "secret"})

	// No token.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	// Wrong token.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}

	// Correct token.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", resp.StatusCode)
	}
}
