// Package api implements Tachikoma's HTTP surface.
//
// Endpoints:
//
//	POST /query   → QueryRequest → QueryResponse (full message transcript)
//	GET  /tools   → ToolsResponse (live tool list from the tool server)
//	GET  /health  → HealthResponse
//	GET  /status  → StatusResponse
//
// Bearer-token authentication: set Handlers.Token to require
// "Authorization: Bearer <token>" on every request. When Token is empty
// authentication is disabled (dev/test mode).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/tachikoma/internal/agent"
	"github.com/bdobrica/tachikoma/internal/mcp"
	"github.com/bdobrica/tachikoma/internal/observability"
	"github.com/bdobrica/tachikoma/internal/trace"
)

// maxQueryBodyBytes caps the inbound query request body.
const maxQueryBodyBytes = 256 * 1024 // 256 KiB

// QueryAgent is the slice of the agent the API needs. *agent.Agent satisfies
// it; tests substitute a stub.
type QueryAgent interface {
	ProcessQuery(ctx context.Context, query string) agent.Conversation
	Tools(ctx context.Context) ([]mcp.Tool, error)
}

// QueryRequest is the body for POST /query.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryMessage is one transcript entry in a QueryResponse.
type QueryMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// QueryResponse is returned by POST /query.
type QueryResponse struct {
	ConversationID string         `json:"conversation_id"`
	Messages       []QueryMessage `json:"messages"`
}

// ToolEntry is one tool in a ToolsResponse.
type ToolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolsResponse is returned by GET /tools.
type ToolsResponse struct {
	Tools []ToolEntry `json:"tools"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Uptime    float64   `json:"uptime_seconds"`
	StartedAt time.Time `json:"started_at"`
	Tools     int       `json:"tools"`
}

// Handlers bundles the dependencies the server delegates to.
type Handlers struct {
	// Name identifies this instance in /health and /status.
	Name string
	// Model is the configured completion model, reported in /status.
	Model string
	// StartedAt is the time the binary started.
	StartedAt time.Time

	// Token, when non-empty, is the expected bearer token for all requests.
	// When empty, authentication is disabled (useful in local dev/test).
	Token string

	// Agent answers queries and lists tools. Required.
	Agent QueryAgent
}

// Server is the Tachikoma HTTP server.
type Server struct {
	addr     string
	handlers Handlers
	server   *http.Server
}

// New creates a Server listening on addr.
func New(addr string, h Handlers) *Server {
	s := &Server{addr: addr, handlers: h}

	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.authMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // a query may span several tool rounds
	}
	return s
}

// authMiddleware rejects requests that do not carry the correct bearer token.
// When Handlers.Token is empty, all requests are allowed (dev/test mode).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.handlers.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if auth[len("Bearer "):] != s.handlers.Token {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening. It returns once the listener is bound so callers
// can immediately start sending requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.addr, err)
	}
	slog.Info("api server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

// --- handlers ---

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}
	var req QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	ctx := trace.WithTraceID(r.Context(), trace.GenerateID())
	log := observability.WithTrace(ctx)
	log.Info("query received", "channel", "http", "length", len(req.Query))

	conv := s.handlers.Agent.ProcessQuery(ctx, req.Query)

	resp := QueryResponse{
		ConversationID: conv.ID,
		Messages:       make([]QueryMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		resp.Messages = append(resp.Messages, QueryMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}
	log.Info("query answered", "conversation_id", conv.ID, "messages", len(resp.Messages))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tools, err := s.handlers.Agent.Tools(r.Context())
	if err != nil {
		slog.Error("tool list failed", "err", err)
		writeError(w, http.StatusBadGateway, "tool server unavailable: "+err.Error())
		return
	}

	resp := ToolsResponse{Tools: make([]ToolEntry, 0, len(tools))}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, ToolEntry{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Name: s.handlers.Name})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	toolCount := 0
	if tools, err := s.handlers.Agent.Tools(r.Context()); err == nil {
		toolCount = len(tools)
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Name:      s.handlers.Name,
		Model:     s.handlers.Model,
		Uptime:    time.Since(s.handlers.StartedAt).Seconds(),
		StartedAt: s.handlers.StartedAt,
		Tools:     toolCount,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// TestHandler exposes the server's HTTP handler for use in httptest.NewServer.
// This is only intended for tests.
func (s *Server) TestHandler() http.Handler {
	return s.server.Handler
}
