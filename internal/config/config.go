// Package config provides configuration for chatvault.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Session backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// Content store backends.
const (
	StoreIPFS  = "ipfs"
	StoreLocal = "local"
)

// Language-model providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// Config holds the service configuration.
type Config struct {
	// Server
	HTTPPort int `env:"HTTP_PORT" envDefault:"3001"`

	// Session repository
	SessionBackend string `env:"SESSION_BACKEND" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:chatvault.db?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on"`
	SessionDir     string `env:"SESSION_DIR" envDefault:"data/sessions"`

	// Language model
	LLMProvider      string        `env:"LLM_PROVIDER" envDefault:"ollama"`
	LLMBaseURL       string        `env:"LLM_BASE_URL" envDefault:"http://localhost:11434"`
	LLMAPIKey        string        `env:"LLM_API_KEY"`
	LLMModel         string        `env:"LLM_MODEL" envDefault:"llama3.2"`
	LLMTimeout       time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	ChatHistoryTurns int           `env:"CHAT_HISTORY_TURNS" envDefault:"0"`

	// Content-addressable store
	StoreBackend string        `env:"STORE_BACKEND" envDefault:"ipfs"`
	IPFSAPIURL   string        `env:"IPFS_API_URL" envDefault:"http://localhost:5001"`
	BlobDir      string        `env:"BLOB_DIR" envDefault:"data/blobs"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"30s"`

	// Publish policy
	PublishMaxBytes   int64  `env:"PUBLISH_MAX_BYTES" envDefault:"4194304"`
	PublishPolicyFile string `env:"PUBLISH_POLICY_FILE"`

	// WebSocket event stream
	WSPingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	WSWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	WSReadTimeout  time.Duration `env:"WS_READ_TIMEOUT" envDefault:"60s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backend names and nonsensical limits.
func (c *Config) Validate() error {
	switch c.SessionBackend {
	case BackendSQLite, BackendPostgres, BackendFile:
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	switch c.StoreBackend {
	case StoreIPFS, StoreLocal:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderOllama, ProviderMock:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.ChatHistoryTurns < 0 {
		return fmt.Errorf("CHAT_HISTORY_TURNS must not be negative")
	}
	if c.PublishMaxBytes <= 0 {
		return fmt.Errorf("PUBLISH_MAX_BYTES must be positive")
	}
	return nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
