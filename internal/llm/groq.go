package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGroqBase = "https://api.groq.com/openai/v1"

// GroqConfig configures the Groq (OpenAI-compatible) adapter.
type GroqConfig struct {
	// APIKey is the bearer token for the API.
	APIKey string
	// BaseURL overrides the API endpoint (any OpenAI-compatible server works,
	// e.g. a local Ollama). Defaults to https://api.groq.com/openai/v1.
	BaseURL string
	// Model is the model identifier (e.g. "llama-3.1-8b-instant").
	Model string
	// MaxTokens caps the response length. 0 = provider default.
	MaxTokens int
	// Temperature for sampling. 0 means the adapter default (0.7).
	Temperature float64
	// Timeout for each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// groqProvider implements Provider using the Groq chat completions API.
//
// The native `tools` request parameter is deliberately never sent: tool use
// is driven entirely through the in-band call syntax described in the system
// instruction, and tool-result turns travel as user-role messages since the
// flat message list is the only input channel this design uses.
type groqProvider struct {
	cfg    GroqConfig
	client *http.Client
}

// NewGroq returns a Provider backed by the Groq (or compatible) API.
func NewGroq(cfg GroqConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGroqBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	return &groqProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types (subset of the OpenAI-compatible API) ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Generate sends a chat completion request and returns the generated text.
func (p *groqProvider) Generate(ctx context.Context, messages []Message, tools []ToolInfo) (string, error) {
	wire := make([]chatMessage, 0, len(messages)+1)

	if !hasSystemMessage(messages) {
		wire = append(wire, chatMessage{
			Role:    string(RoleSystem),
			Content: BuildSystemInstruction(tools),
		})
	}

	for _, m := range messages {
		role := m.Role
		// Tool results are re-injected as user turns: the in-band design never
		// emits the assistant tool_calls structure the API requires before it
		// will accept a tool-role message.
		if role == RoleTool {
			role = RoleUser
		}
		wire = append(wire, chatMessage{Role: string(role), Content: m.Content})
	}

	body := chatRequest{
		Model:       p.cfg.Model,
		Messages:    wire,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("completion error %s: %s", chatResp.Error.Type, chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response (status %d)", resp.StatusCode)
	}

	return chatResp.Choices[0].Message.Content, nil
}
