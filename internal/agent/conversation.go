package agent

import (
	"github.com/google/uuid"

	"github.com/bdobrica/tachikoma/internal/llm"
)

// Conversation is the ordered message log for one query, from the seed user
// message to the final answer. It is a per-call value threaded through the
// loop — concurrent queries never share one.
type Conversation struct {
	ID       string        `json:"id"`
	Messages []llm.Message `json:"messages"`
}

// NewConversation returns an empty conversation with a fresh identifier.
func NewConversation() Conversation {
	return Conversation{ID: uuid.NewString()}
}

// Append adds a message to the end of the log. Messages are never reordered
// or removed.
func (c *Conversation) Append(m llm.Message) {
	c.Messages = append(c.Messages, m)
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.Messages) }

// LastAssistantText returns the content of the most recent assistant
// message, or "" when the conversation has none.
func (c *Conversation) LastAssistantText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == llm.RoleAssistant {
			return c.Messages[i].Content
		}
	}
	return ""
}
