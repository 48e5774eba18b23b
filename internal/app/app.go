// Package app wires all Tachikoma subsystems and implements the chat turn
// pipeline: Matrix message received → agent query loop → reply.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/tachikoma/internal/agent"
	"github.com/bdobrica/tachikoma/internal/api"
	"github.com/bdobrica/tachikoma/internal/config"
	"github.com/bdobrica/tachikoma/internal/llm"
	"github.com/bdobrica/tachikoma/internal/matrix"
	"github.com/bdobrica/tachikoma/internal/mcp"
	"github.com/bdobrica/tachikoma/internal/observability"
	"github.com/bdobrica/tachikoma/internal/store"
	"github.com/bdobrica/tachikoma/internal/trace"
)

// typingTimeout is how long a single typing notification stays active while
// a query is being processed.
const typingTimeout = 30 * time.Second

// fallbackReply is sent when a query produces no assistant text at all.
const fallbackReply = "I'm sorry, I'm having trouble processing that request. Could you try asking in a different way?"

// matrixSender abstracts the Matrix send operations needed by the message
// handler. It is satisfied by *matrix.Client and can be replaced with a
// recording stub in unit tests without a real Matrix connection.
type matrixSender interface {
	ReplyToMessage(roomID, eventID, message string) error
	SendMessage(roomID, message string) error
	SetTyping(roomID string, typing bool, timeout time.Duration) error
}

// Secrets holds the credentials merged in from the environment. They never
// appear in the YAML configuration file.
type Secrets struct {
	// GroqAPIKey authenticates against the completion provider.
	GroqAPIKey string
	// MatrixAccessToken authenticates the Matrix bot session.
	MatrixAccessToken string
	// HTTPToken, when non-empty, is the bearer token the API server requires.
	HTTPToken string
}

// App is the main Tachikoma application.
type App struct {
	cfg       *config.Config
	db        *store.Store
	toolCli   *mcp.Client
	agent     *agent.Agent
	apiSrv    *api.Server
	matrixCli *matrix.Client
	// sender is used by handleMessage to post replies. It defaults to
	// matrixCli in New() and can be overridden in tests.
	sender    matrixSender
	startedAt time.Time
}

// New creates and initialises all Tachikoma subsystems: it opens the store,
// spawns and handshakes the tool server, and enumerates its tools. It does
// NOT start any serving goroutines; call Run() for that.
func New(ctx context.Context, cfg *config.Config, sec Secrets) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	toolCli, err := mcp.Connect(ctx, mcp.Config{
		Name:    cfg.Metadata.Name,
		Command: cfg.ToolServer.Command,
		Args:    cfg.ToolServer.Args,
		Env:     cfg.ToolServer.ToolServerEnv(),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("start tool server: %w", err)
	}

	provider := llm.NewGroq(llm.GroqConfig{
		APIKey:      sec.GroqAPIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	ag, err := agent.New(ctx, agent.Options{
		Provider:  provider,
		Transport: toolCli,
		Store:     db,
		MaxRounds: cfg.Limits.MaxRounds,
	})
	if err != nil {
		toolCli.Close()
		db.Close()
		return nil, fmt.Errorf("init agent: %w", err)
	}

	app := &App{
		cfg:       cfg,
		db:        db,
		toolCli:   toolCli,
		agent:     ag,
		startedAt: time.Now(),
	}

	app.apiSrv = api.New(cfg.HTTP.Addr, api.Handlers{
		Name:      cfg.Metadata.Name,
		Model:     cfg.LLM.Model,
		StartedAt: app.startedAt,
		Token:     sec.HTTPToken,
		Agent:     ag,
	})

	if cfg.Matrix.Enabled {
		matrixCli, err := matrix.New(&matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: sec.MatrixAccessToken,
			Rooms:       cfg.Matrix.Rooms,
		})
		if err != nil {
			toolCli.Close()
			db.Close()
			return nil, fmt.Errorf("init matrix: %w", err)
		}
		app.matrixCli = matrixCli
		app.sender = matrixCli
	}

	return app, nil
}

// Run starts all subsystems and blocks until a shutdown signal is received.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.apiSrv.Start(ctx); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	if a.matrixCli != nil {
		if err := a.matrixCli.Start(ctx, a.handleMessage); err != nil {
			return fmt.Errorf("start matrix: %w", err)
		}
	}

	slog.Info("tachikoma started",
		"name", a.cfg.Metadata.Name,
		"model", a.cfg.LLM.Model,
		"tools", len(a.agent.DeclaredTools()),
		"matrix", a.cfg.Matrix.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("received shutdown signal")

	cancel()
	a.Stop()
	return nil
}

// Stop shuts down all subsystems cleanly.
func (a *App) Stop() {
	if a.matrixCli != nil {
		a.matrixCli.Stop()
	}
	a.apiSrv.Stop()
	a.toolCli.Close()
	a.db.Close()
}

// handleMessage is called by the Matrix client for every incoming text
// message in a configured room.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil {
		return
	}
	text := strings.TrimSpace(msgContent.Body)
	if text == "" {
		return
	}
	roomID := evt.RoomID.String()
	sender := evt.Sender.String()

	if strings.HasPrefix(text, a.cfg.Matrix.CommandPrefix) {
		a.handleCommand(ctx, roomID, text)
		return
	}

	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)
	log := observability.WithTrace(ctx)
	log.Info("query received", "channel", "matrix", "room", roomID, "sender", sender)

	turnID, err := a.db.LogTurn(traceID, "matrix", sender, text)
	if err != nil {
		log.Warn("could not log turn", "err", err)
	}

	if a.sender != nil {
		_ = a.sender.SetTyping(roomID, true, typingTimeout)
		defer a.sender.SetTyping(roomID, false, 0)
	}

	conv := a.agent.ProcessQuery(ctx, text)

	reply := conv.LastAssistantText()
	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply
	}

	if a.sender != nil {
		if err := a.sender.ReplyToMessage(roomID, evt.ID.String(), reply); err != nil {
			log.Error("could not send reply", "err", err)
		}
	}

	if turnID > 0 {
		rounds, toolCalls := countTurnActivity(conv)
		_ = a.db.FinishTurn(turnID, rounds, toolCalls, reply, "")
	}
	log.Info("query answered", "conversation_id", conv.ID, "messages", conv.Len())
}

// handleCommand answers the built-in chat commands.
func (a *App) handleCommand(ctx context.Context, roomID, text string) {
	if a.sender == nil {
		return
	}
	prefix := a.cfg.Matrix.CommandPrefix
	cmd := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(cmd) == 0 {
		return
	}

	switch cmd[0] {
	case "help":
		_ = a.sender.SendMessage(roomID, a.helpText())
	case "tools":
		tools, err := a.agent.Tools(ctx)
		if err != nil {
			slog.Warn("tool list failed", "err", err)
			_ = a.sender.SendMessage(roomID, "Sorry, I could not reach the tool server.")
			return
		}
		_ = a.sender.SendMessage(roomID, formatToolList(tools))
	default:
		_ = a.sender.SendMessage(roomID,
			fmt.Sprintf("Unknown command %s%s. Try %shelp.", prefix, cmd[0], prefix))
	}
}

// helpText builds the !help response.
func (a *App) helpText() string {
	p := a.cfg.Matrix.CommandPrefix
	return strings.Join([]string{
		"I answer questions and can use tools to look things up.",
		"",
		"Commands:",
		fmt.Sprintf("  %shelp   show this message", p),
		fmt.Sprintf("  %stools  list the available tools", p),
		"",
		"Anything else is treated as a question.",
	}, "\n")
}

// formatToolList renders the tool inventory for the !tools command.
func formatToolList(tools []mcp.Tool) string {
	if len(tools) == 0 {
		return "No tools are currently available."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Available tools (%d):\n", len(tools))
	for _, t := range tools {
		if t.Description != "" {
			fmt.Fprintf(&b, "• %s — %s\n", t.Name, t.Description)
		} else {
			fmt.Fprintf(&b, "• %s\n", t.Name)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// countTurnActivity derives the turn_log bookkeeping numbers from a finished
// conversation: assistant messages mark rounds, tool messages mark calls.
func countTurnActivity(conv agent.Conversation) (rounds, toolCalls int) {
	for _, m := range conv.Messages {
		switch m.Role {
		case llm.RoleAssistant:
			rounds++
		case llm.RoleTool:
			toolCalls++
		}
	}
	return rounds, toolCalls
}
