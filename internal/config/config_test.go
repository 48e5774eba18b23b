package config

import (
	"strings"
	"testing"
)

const validYAML = `
metadata:
  name: tachikoma
toolServer:
  command: npx
  args: ["-y", "web3-research-mcp@latest"]
llm:
  model: llama-3.1-8b-instant
  temperature: 0.7
matrix:
  enabled: true
  homeserver: https://matrix.org
  userId: "@tachikoma:matrix.org"
  rooms: ["!room:matrix.org"]
http:
  addr: ":9090"
limits:
  maxRounds: 5
log:
  level: debug
  format: json
database:
  path: /data/tachikoma.db
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ToolServer.Command != "npx" {
		t.Errorf("command = %q", cfg.ToolServer.Command)
	}
	if len(cfg.ToolServer.Args) != 2 || cfg.ToolServer.Args[1] != "web3-research-mcp@latest" {
		t.Errorf("args = %v", cfg.ToolServer.Args)
	}
	if cfg.LLM.Model != "llama-3.1-8b-instant" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Limits.MaxRounds != 5 {
		t.Errorf("maxRounds = %d", cfg.Limits.MaxRounds)
	}
	if !cfg.Matrix.Enabled || cfg.Matrix.UserID != "@tachikoma:matrix.org" {
		t.Errorf("matrix = %+v", cfg.Matrix)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	minimal := `
toolServer:
  command: npx
llm:
  model: m
`
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Metadata.Name != "tachikoma" {
		t.Errorf("name = %q", cfg.Metadata.Name)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Matrix.CommandPrefix != "!" {
		t.Errorf("prefix = %q", cfg.Matrix.CommandPrefix)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Database.Path != "tachikoma.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing command",
			"llm:\n  model: m\n",
			"toolServer.command",
		},
		{
			"missing model",
			"toolServer:\n  command: npx\n",
			"llm.model",
		},
		{
			"bad temperature",
			"toolServer:\n  command: npx\nllm:\n  model: m\n  temperature: 3.5\n",
			"llm.temperature",
		},
		{
			"matrix without homeserver",
			"toolServer:\n  command: npx\nllm:\n  model: m\nmatrix:\n  enabled: true\n  userId: \"@b:x\"\n  rooms: [\"!r:x\"]\n",
			"matrix.homeserver",
		},
		{
			"matrix bad user id",
			"toolServer:\n  command: npx\nllm:\n  model: m\nmatrix:\n  enabled: true\n  homeserver: https://x\n  userId: bot\n  rooms: [\"!r:x\"]\n",
			"matrix.userId",
		},
		{
			"matrix bad room",
			"toolServer:\n  command: npx\nllm:\n  model: m\nmatrix:\n  enabled: true\n  homeserver: https://x\n  userId: \"@b:x\"\n  rooms: [\"room\"]\n",
			"matrix.rooms",
		},
		{
			"bad log level",
			"toolServer:\n  command: npx\nllm:\n  model: m\nlog:\n  level: loud\n",
			"log.level",
		},
		{
			"not yaml",
			"{{{",
			"config parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestToolServerEnv(t *testing.T) {
	ts := ToolServer{Env: map[string]string{"API_KEY": "x"}}
	env := ts.ToolServerEnv()
	if len(env) != 1 || env[0] != "API_KEY=x" {
		t.Errorf("env = %v", env)
	}
	if (ToolServer{}).ToolServerEnv() != nil {
		t.Error("empty env should be nil")
	}
}
