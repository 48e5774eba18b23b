// Package mcp implements the tool transport: a client for a Model Context
// Protocol server process spoken to over stdin/stdout with newline-delimited
// JSON-RPC 2.0.
package mcp

import (
	"encoding/json"
	"fmt"
)

// Tool is a capability announced by the tool server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolError is returned by Call when the server executed the tool but the
// tool itself reported a failure (JSON-RPC succeeded, isError was set).
type ToolError struct {
	// Tool is the name of the tool that failed.
	Tool string
	// Content is the raw result content the server attached to the failure.
	Content json.RawMessage
}

func (e *ToolError) Error() string {
	if len(e.Content) == 0 {
		return fmt.Sprintf("tool %q reported an error", e.Tool)
	}
	return fmt.Sprintf("tool %q reported an error: %s", e.Tool, e.Content)
}

// --- JSON-RPC 2.0 wire types ---

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return e.Message }

// --- MCP method payloads ---

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    struct{}   `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type callToolResult struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"isError,omitempty"`
}
