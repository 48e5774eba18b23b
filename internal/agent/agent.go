// Package agent implements the conversational tool-invocation loop: the one
// part of Tachikoma with a real control-flow contract. Given a user query it
// repeatedly asks the completion provider for text, parses embedded
// <function=name{...}> call fragments out of it, dispatches them to the tool
// transport, feeds the results back as conversation turns, and stops when a
// completion arrives with no fragments.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/tachikoma/internal/llm"
	"github.com/bdobrica/tachikoma/internal/mcp"
	"github.com/bdobrica/tachikoma/internal/observability"
)

// DefaultMaxRounds bounds the completion/tool loop when the configuration
// does not say otherwise. Without a bound a model that keeps emitting call
// fragments would chain tools forever.
const DefaultMaxRounds = 10

// ToolTransport is the connection used to enumerate and invoke tools. It is
// a shared long-lived handle; implementations must tolerate concurrent
// callers and treat call errors as per-call, not connection-fatal.
type ToolTransport interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	Call(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
}

// SnapshotStore persists conversation snapshots. Persistence is best-effort:
// the loop reports failures and moves on.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, conversationID string, round int, messages []llm.Message) error
}

// Options configures an Agent.
type Options struct {
	Provider  llm.Provider
	Transport ToolTransport
	// Store receives a conversation snapshot after every round. Optional.
	Store SnapshotStore
	// MaxRounds caps the number of completion/tool rounds per query.
	// 0 means DefaultMaxRounds.
	MaxRounds int
}

// Agent drives queries to completion. One Agent serves all concurrent
// queries; per-query state lives in the Conversation value each
// ProcessQuery call owns.
type Agent struct {
	provider  llm.Provider
	transport ToolTransport
	store     SnapshotStore
	maxRounds int

	// declared is the tool set announced by the transport, fetched once at
	// construction and treated as read-only by the loop.
	declared []llm.ToolInfo
	// schemas holds the compiled input schemas of declared tools, keyed by
	// tool name. Validation is advisory: a mismatch is logged, never blocks
	// dispatch — the transport stays authoritative over argument acceptance.
	schemas map[string]*jsonschema.Schema
}

// New builds an Agent and caches the transport's declared tool set. A
// transport that cannot enumerate tools fails construction — without the
// declared set the loop cannot instruct the model.
func New(ctx context.Context, opts Options) (*Agent, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("agent: completion provider is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("agent: tool transport is required")
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	tools, err := opts.Transport.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent: list tools: %w", err)
	}

	declared := make([]llm.ToolInfo, 0, len(tools))
	schemas := make(map[string]*jsonschema.Schema, len(tools))
	for _, t := range tools {
		description := t.Description
		if description == "" {
			description = "Tool " + t.Name
		}
		var schemaDoc interface{}
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schemaDoc); err != nil {
				slog.Warn("agent: tool announced unparseable input schema", "tool", t.Name, "err", err)
			}
			if sch, err := jsonschema.CompileString(t.Name+".schema.json", string(t.InputSchema)); err != nil {
				slog.Warn("agent: tool input schema does not compile", "tool", t.Name, "err", err)
			} else {
				schemas[t.Name] = sch
			}
		}
		declared = append(declared, llm.ToolInfo{
			Name:        t.Name,
			Description: description,
			InputSchema: schemaDoc,
		})
	}

	slog.Info("agent ready", "tools", len(declared), "max_rounds", maxRounds)
	return &Agent{
		provider:  opts.Provider,
		transport: opts.Transport,
		store:     opts.Store,
		maxRounds: maxRounds,
		declared:  declared,
		schemas:   schemas,
	}, nil
}

// DeclaredTools returns the cached tool set the loop advertises to the model.
func (a *Agent) DeclaredTools() []llm.ToolInfo { return a.declared }

// Tools is a read-through to the transport's live tool list, bypassing the
// construction-time cache.
func (a *Agent) Tools(ctx context.Context) ([]mcp.Tool, error) {
	return a.transport.ListTools(ctx)
}

// ProcessQuery drives one user query to a final textual answer, performing
// zero or more tool round-trips along the way. It always returns a
// well-formed Conversation: tool failures become in-band error turns the
// model can react to, and a completion failure is converted into a single
// synthetic assistant message ending the exchange. No error escapes.
func (a *Agent) ProcessQuery(ctx context.Context, query string) Conversation {
	log := observability.WithTrace(ctx)

	conv := NewConversation()
	conv.Append(llm.Message{Role: llm.RoleUser, Content: query})

	for round := 1; ; round++ {
		if round > a.maxRounds {
			log.Warn("query stopped at round budget", "conversation_id", conv.ID, "max_rounds", a.maxRounds)
			conv.Append(llm.Message{
				Role: llm.RoleAssistant,
				Content: fmt.Sprintf(
					"I'm sorry, I stopped after %d tool rounds without reaching a final answer. The tool results gathered so far are included above.",
					a.maxRounds),
			})
			a.snapshot(ctx, &conv, round)
			return conv
		}

		text, err := a.provider.Generate(ctx, conv.Messages, a.declared)
		if err != nil {
			// The loop cannot make progress without completions; end the
			// exchange with a synthetic answer instead of surfacing the error.
			log.Error("completion failed", "conversation_id", conv.ID, "round", round, "err", err)
			conv.Append(llm.Message{
				Role:    llm.RoleAssistant,
				Content: fmt.Sprintf("I'm sorry, I encountered an error: %s", err),
			})
			a.snapshot(ctx, &conv, round)
			return conv
		}

		// The fragments stay embedded in the assistant text; Calls is the
		// parsed view the tool dispatch below walks in order.
		assistant := llm.Message{Role: llm.RoleAssistant, Content: text}
		for _, rc := range ParseCalls(text) {
			assistant.Calls = append(assistant.Calls, llm.ToolCall{
				ID:           uuid.NewString(),
				Name:         rc.Name,
				RawArguments: rc.Arguments(),
			})
		}
		conv.Append(assistant)

		if len(assistant.Calls) == 0 {
			a.snapshot(ctx, &conv, round)
			return conv
		}

		for _, call := range assistant.Calls {
			conv.Append(a.invoke(ctx, call))
		}
		a.snapshot(ctx, &conv, round)
	}
}

// invoke dispatches one parsed call and converts the outcome — success or
// failure — into the tool-result turn the next completion round will see.
func (a *Agent) invoke(ctx context.Context, call llm.ToolCall) llm.Message {
	log := observability.WithTrace(ctx)

	msg := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(call.RawArguments), &args); err != nil {
		log.Warn("tool arguments do not decode", "tool", call.Name, "err", err)
		msg.Content = fmt.Sprintf("Error using tool '%s': invalid arguments: %s", call.Name, err)
		return msg
	}

	// Advisory check only: the model sometimes invents argument shapes, and
	// flagging them early helps operators, but the transport keeps the final
	// say on what it accepts. Unknown tool names pass through untouched for
	// the same reason.
	if sch, ok := a.schemas[call.Name]; ok {
		if err := sch.Validate(argsForValidation(args)); err != nil {
			log.Warn("tool arguments fail declared schema; dispatching anyway",
				"tool", call.Name, "err", err)
		}
	}

	log.Info("calling tool", "tool", call.Name, "call_id", call.ID)
	raw, err := a.transport.Call(ctx, call.Name, args)
	if err != nil {
		log.Warn("tool call failed", "tool", call.Name, "err", err)
		msg.Content = fmt.Sprintf("Error using tool '%s': %s", call.Name, err)
		return msg
	}

	msg.Content = fmt.Sprintf("Tool '%s' returned: %s", call.Name, FormatResult(raw))
	return msg
}

// argsForValidation normalises a nil map to an empty object so that schemas
// with no required properties validate an argument-less call.
func argsForValidation(args map[string]interface{}) interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// snapshot persists the conversation so far. Failures are reported and
// swallowed — logging must never unwind the loop.
func (a *Agent) snapshot(ctx context.Context, conv *Conversation, round int) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveSnapshot(ctx, conv.ID, round, conv.Messages); err != nil {
		observability.WithTrace(ctx).Warn("could not persist conversation snapshot",
			"conversation_id", conv.ID, "round", round, "err", err)
	}
}
