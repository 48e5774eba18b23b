// Package llm defines the completion provider interface and the message
// types shared by the Tachikoma query loop.
//
// The loop calls Generate repeatedly until the model produces text with no
// embedded function-call fragments. Tool use is driven purely in-band: the
// provider is instructed (via the system message) to emit
// <function=name{...}> fragments instead of using a native structured
// tool-calling channel, and tool results are fed back as ordinary
// conversation turns.
package llm

import "context"

// Role is the role of a chat message. The set is closed; anything outside it
// is unrepresentable in a Conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Calls holds the tool-call descriptors parsed out of an assistant
	// message. The fragments remain embedded in Content; Calls is the parsed
	// view of them.
	Calls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID back-references the call a tool-result message answers.
	// Present only when Role == RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model, parsed from the
// in-band call syntax.
type ToolCall struct {
	// ID is a generated identifier linking the call to its result message.
	ID string `json:"id"`
	// Name is the tool name as it appeared in the fragment.
	Name string `json:"name"`
	// RawArguments is the undecoded argument fragment (JSON object interior,
	// braces included).
	RawArguments string `json:"arguments"`
}

// ToolInfo describes a declared tool the model may request.
type ToolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"input_schema,omitempty"` // JSON Schema object
}

// Provider is the interface all completion backends implement.
type Provider interface {
	// Generate sends the ordered message list plus the declared tool set to
	// the model and returns the generated text. Implementations are
	// responsible for injecting the tool-use system instruction when the
	// message list carries no system message.
	Generate(ctx context.Context, messages []Message, tools []ToolInfo) (string, error)
}
