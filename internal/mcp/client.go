package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

const protocolVersion = "2024-11-05"

// Config describes how to launch the tool server process.
type Config struct {
	// Name labels the server in logs.
	Name string
	// Command is the executable (e.g. "npx").
	Command string
	// Args are the command arguments (e.g. ["-y", "web3-research-mcp@latest"]).
	Args []string
	// Env is extra environment (KEY=VALUE) appended to the parent environment.
	Env []string
}

// Client is a live connection to one tool server process. A single Client is
// shared by all concurrent queries; per-call errors are transient and never
// tear down the connection.
type Client struct {
	name string
	cmd  *exec.Cmd
	conn *conn
}

// Connect launches the configured process and performs the MCP handshake.
// The Client is ready for ListTools and Call once Connect returns.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start tool server: %w", err)
	}

	c := &Client{
		name: cfg.Name,
		cmd:  cmd,
		conn: newConn(cfg.Name, stdin, stdout),
	}

	var initRes initializeResult
	initParams := initializeParams{ProtocolVersion: protocolVersion}
	initParams.ClientInfo = clientInfo{Name: "tachikoma", Version: "1"}
	if err := c.conn.call(ctx, "initialize", initParams, &initRes); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}
	if err := c.conn.notify("notifications/initialized", nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp initialized notification: %w", err)
	}

	slog.Info("tool server ready",
		"name", cfg.Name,
		"server", initRes.ServerInfo.Name,
		"version", initRes.ServerInfo.Version,
	)
	return c, nil
}

// ListTools returns the tool descriptors the server currently exposes.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var res listToolsResult
	if err := c.conn.call(ctx, "tools/list", nil, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// Call invokes the named tool and returns the raw JSON of the result's
// content field. Shape handling is the caller's concern — the transport does
// not interpret the payload. A result flagged isError comes back as a
// *ToolError.
func (c *Client) Call(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	var res callToolResult
	if err := c.conn.call(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, &ToolError{Tool: name, Content: res.Content}
	}
	return res.Content, nil
}

// Close shuts down the server process.
func (c *Client) Close() error {
	c.conn.close()
	return c.cmd.Wait()
}

// conn is the JSON-RPC request/response engine over a stdin/stdout pair.
// Separated from process management so it can be exercised against in-memory
// pipes.
type conn struct {
	name    string
	w       io.WriteCloser
	writeMu sync.Mutex
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan *rpcResponse
}

func newConn(name string, w io.WriteCloser, r io.Reader) *conn {
	c := &conn{
		name:    name,
		w:       w,
		pending: make(map[int64]chan *rpcResponse),
	}
	go c.readLoop(r)
	return c
}

// call sends one request and blocks until the matching response arrives, the
// context is cancelled, or the connection closes.
func (c *conn) call(ctx context.Context, method string, params, result interface{}) error {
	id := c.nextID.Add(1)
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan *rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeLine(data); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Result, result)
	}
}

// notify sends a request that expects no response.
func (c *conn) notify(method string, params interface{}) error {
	data, err := json.Marshal(rpcNotification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.writeLine(data)
}

func (c *conn) writeLine(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s\n", data)
	return err
}

func (c *conn) close() {
	c.w.Close()
}

// readLoop delivers responses to their waiting callers. On EOF every pending
// call is failed with a transport-closed error so no caller blocks forever.
func (c *conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<20) // 1MB per line
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			slog.Warn("mcp: unparseable response line", "name", c.name, "err", err)
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- &rpcResponse{ID: id, Error: &rpcError{Code: -32000, Message: "tool server connection closed"}}
	}
	c.pending = make(map[int64]chan *rpcResponse)
	c.pendingMu.Unlock()
}
