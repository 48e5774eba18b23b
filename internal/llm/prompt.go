package llm

import (
	"fmt"
	"strings"
)

// BuildSystemInstruction assembles the system message content that teaches
// the model the in-band call syntax and the exact set of declared tool names.
//
// The instruction is rebuilt for every completion round so the model is
// reminded of the tool set even deep into a long tool chain; it never
// becomes part of the stored conversation.
func BuildSystemInstruction(tools []ToolInfo) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant for the Tachikoma platform. ")

	if len(tools) == 0 {
		return sb.String()
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, "`"+t.Name+"`")
	}
	list := strings.Join(names, ", ")

	fmt.Fprintf(&sb, "You have access to the following tools: %s. ", list)
	sb.WriteString("These tools can help you gather information and perform various tasks. ")
	sb.WriteString(`To use tools, format your response like this: <function=tool_name{"param":"value"}>. `)
	sb.WriteString(`For example, to search for information, use: <function=search{"query":"your search query","searchType":"web"}>. `)
	sb.WriteString("Always include explanatory text along with any function calls. ")
	fmt.Fprintf(&sb, "IMPORTANT: ONLY use the specific tool names listed above: %s. ", list)
	sb.WriteString("Do not invent or try to use tools that aren't in this list.")

	return sb.String()
}

// hasSystemMessage reports whether the message list already carries a
// system-role message.
func hasSystemMessage(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return true
		}
	}
	return false
}
