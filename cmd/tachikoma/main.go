// Tachikoma is a tool-using chat agent runtime.
//
// It launches an MCP tool server as a child process, answers queries through
// a Groq-hosted language model that invokes those tools via in-band call
// fragments, and serves the result over an HTTP API and an optional Matrix
// bot. Structural configuration lives in a YAML file; secrets come from the
// environment.
//
// Environment variables:
//
//	TACHIKOMA_CONFIG      - path to tachikoma.yaml (default: "tachikoma.yaml")
//	GROQ_API_KEY          - API key for the completion provider (required)
//	MATRIX_ACCESS_TOKEN   - Matrix access token (required when matrix.enabled)
//	TACHIKOMA_HTTP_TOKEN  - bearer token for the HTTP API (optional; empty disables auth)
//	LOG_LEVEL             - overrides log.level from the config file
//	LOG_FORMAT            - overrides log.format from the config file
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bdobrica/tachikoma/internal/app"
	"github.com/bdobrica/tachikoma/internal/config"
	"github.com/bdobrica/tachikoma/internal/environment"
	"github.com/bdobrica/tachikoma/internal/observability"
)

func main() {
	cfgPath := environment.StringOr("TACHIKOMA_CONFIG", "tachikoma.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	observability.Setup(
		environment.StringOr("LOG_LEVEL", cfg.Log.Level),
		environment.StringOr("LOG_FORMAT", cfg.Log.Format),
	)

	sec := app.Secrets{
		GroqAPIKey: requireEnv("GROQ_API_KEY"),
		HTTPToken:  os.Getenv("TACHIKOMA_HTTP_TOKEN"),
	}
	if cfg.Matrix.Enabled {
		sec.MatrixAccessToken = requireEnv("MATRIX_ACCESS_TOKEN")
	}

	tachikoma, err := app.New(context.Background(), cfg, sec)
	if err != nil {
		slog.Error("failed to initialize Tachikoma", "err", err)
		os.Exit(1)
	}

	if err := tachikoma.Run(); err != nil {
		slog.Error("Tachikoma exited with error", "err", err)
		os.Exit(1)
	}
}

func requireEnv(key string) string {
	v, err := environment.RequiredString(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	return v
}
