// Package config defines the Tachikoma YAML configuration file and its
// validation. Secrets (API keys, access tokens) never live in the file; they
// are merged in from the environment by the caller.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root of the tachikoma.yaml document.
type Config struct {
	// Metadata holds descriptive metadata.
	Metadata Metadata `yaml:"metadata"`

	// ToolServer describes the MCP server process to launch.
	ToolServer ToolServer `yaml:"toolServer"`

	// LLM holds the completion provider settings.
	LLM LLM `yaml:"llm"`

	// Matrix holds the chat front-end settings.
	Matrix Matrix `yaml:"matrix,omitempty"`

	// HTTP holds the API surface settings.
	HTTP HTTP `yaml:"http,omitempty"`

	// Limits defines per-query constraints.
	Limits Limits `yaml:"limits,omitempty"`

	// Log configures structured logging.
	Log Log `yaml:"log,omitempty"`

	// Database configures the conversation log store.
	Database Database `yaml:"database,omitempty"`
}

// Metadata holds descriptive information about the deployment.
type Metadata struct {
	// Name identifies this instance (used in /health and log lines).
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// ToolServer describes the tool provider subprocess.
type ToolServer struct {
	// Command is the executable to launch (e.g. "npx").
	Command string `yaml:"command"`
	// Args are the command arguments.
	Args []string `yaml:"args,omitempty"`
	// Env is extra environment for the process.
	Env map[string]string `yaml:"env,omitempty"`
}

// LLM configures the completion provider.
type LLM struct {
	// Model is the model identifier (e.g. "llama-3.1-8b-instant").
	Model string `yaml:"model"`
	// BaseURL overrides the API endpoint; empty uses the Groq default.
	BaseURL string `yaml:"baseUrl,omitempty"`
	// MaxTokens caps response length. 0 = provider default.
	MaxTokens int `yaml:"maxTokens,omitempty"`
	// Temperature for sampling. 0 = adapter default.
	Temperature float64 `yaml:"temperature,omitempty"`
}

// Matrix configures the chat front end.
type Matrix struct {
	// Enabled turns the Matrix listener on.
	Enabled bool `yaml:"enabled,omitempty"`
	// Homeserver is the Matrix homeserver URL.
	Homeserver string `yaml:"homeserver,omitempty"`
	// UserID is the bot's Matrix ID (e.g. "@tachikoma:matrix.org").
	UserID string `yaml:"userId,omitempty"`
	// Rooms are the room IDs the bot joins and answers in.
	Rooms []string `yaml:"rooms,omitempty"`
	// CommandPrefix introduces chat commands. Defaults to "!".
	CommandPrefix string `yaml:"commandPrefix,omitempty"`
}

// HTTP configures the API server.
type HTTP struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string `yaml:"addr,omitempty"`
}

// Limits defines per-query constraints.
type Limits struct {
	// MaxRounds caps the completion/tool rounds per query. 0 uses the
	// agent default.
	MaxRounds int `yaml:"maxRounds,omitempty"`
}

// Log configures structured logging.
type Log struct {
	// Level is "debug", "info", "warn", or "error". Defaults to "info".
	Level string `yaml:"level,omitempty"`
	// Format is "text" or "json". Defaults to "text".
	Format string `yaml:"format,omitempty"`
}

// Database configures the SQLite conversation log.
type Database struct {
	// Path to the database file. Defaults to "tachikoma.db".
	Path string `yaml:"path,omitempty"`
}

// Load reads, parses, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a Config and validates it. It is the
// canonical entry point for loading configurations.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Metadata.Name == "" {
		cfg.Metadata.Name = "tachikoma"
	}
	if cfg.Matrix.CommandPrefix == "" {
		cfg.Matrix.CommandPrefix = "!"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "tachikoma.db"
	}
}

// Validate checks a Config for structural correctness without executing it.
// It returns the first validation error encountered, or nil if valid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}

	if strings.TrimSpace(cfg.ToolServer.Command) == "" {
		return fmt.Errorf("toolServer.command must not be empty")
	}

	if strings.TrimSpace(cfg.LLM.Model) == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	if cfg.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.maxTokens must not be negative")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	if cfg.Matrix.Enabled {
		if strings.TrimSpace(cfg.Matrix.Homeserver) == "" {
			return fmt.Errorf("matrix.homeserver must not be empty when matrix is enabled")
		}
		if !strings.HasPrefix(cfg.Matrix.UserID, "@") {
			return fmt.Errorf("matrix.userId %q must start with '@'", cfg.Matrix.UserID)
		}
		if len(cfg.Matrix.Rooms) == 0 {
			return fmt.Errorf("matrix.rooms must not be empty when matrix is enabled")
		}
		for _, room := range cfg.Matrix.Rooms {
			if !strings.HasPrefix(room, "!") {
				return fmt.Errorf("matrix.rooms entry %q must start with '!'", room)
			}
		}
	}

	if cfg.Limits.MaxRounds < 0 {
		return fmt.Errorf("limits.maxRounds must not be negative")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", cfg.Log.Format)
	}

	return nil
}

// ToolServerEnv flattens the configured env map into KEY=VALUE pairs.
func (t ToolServer) ToolServerEnv() []string {
	if len(t.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(t.Env))
	for k, v := range t.Env {
		out = append(out, k+"="+v)
	}
	return out
}
