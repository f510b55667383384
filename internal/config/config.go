// Package config provides configuration management for sandloft.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the sandloft server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// PlatformURL is the base URL of the sandbox platform API.
	PlatformURL string

	// PlatformToken authenticates against the sandbox platform.
	PlatformToken string

	// PlatformCallTimeout bounds individual platform API calls. Distinct
	// from SandboxTimeout, which bounds the sandbox's own execution.
	PlatformCallTimeout time.Duration

	// SandboxTimeout is the execution timeout handed to the platform at
	// sandbox creation.
	SandboxTimeout time.Duration

	// GitHubToken is the personal access token for PR status lookups.
	GitHubToken string

	// LLM provider API keys (passed to the sandbox as env vars).
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// DefaultRuntime is used when a session config names no runtime.
	DefaultRuntime string

	// RuntimesPath is an optional YAML runtime catalog overriding the
	// built-in runtimes.
	RuntimesPath string

	// Slack notifications (optional).
	SlackBotToken string
	SlackChannel  string

	// Telegram notifications (optional, send-only).
	TelegramBotToken string
	TelegramChatID   int64

	// SweepInterval is how often the serve command reconciles non-terminal
	// sessions in the background. Zero disables the sweep; callers then
	// bound staleness by their own polling.
	SweepInterval time.Duration
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Existing env vars win; godotenv.Load never overwrites them.
	_ = godotenv.Load(filepath.Join(defaultDataDir(), "config.env"))

	dataDir := envOr("SANDLOFT_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:          envOr("SANDLOFT_ADDR", ":7080"),
		DataDir:             dataDir,
		DatabasePath:        filepath.Join(dataDir, "sandloft.db"),
		PlatformURL:         envOr("SANDLOFT_PLATFORM_URL", "http://localhost:8090"),
		PlatformToken:       os.Getenv("SANDLOFT_PLATFORM_TOKEN"),
		PlatformCallTimeout: envOrDuration("SANDLOFT_PLATFORM_CALL_TIMEOUT", 30*time.Second),
		SandboxTimeout:      envOrDuration("SANDLOFT_SANDBOX_TIMEOUT", 30*time.Minute),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		DefaultRuntime:      envOr("SANDLOFT_DEFAULT_RUNTIME", "node24"),
		RuntimesPath:        os.Getenv("SANDLOFT_RUNTIMES_PATH"),
		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:        os.Getenv("SLACK_CHANNEL"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      envOrInt64("TELEGRAM_CHAT_ID", 0),
		SweepInterval:       envOrDuration("SANDLOFT_SWEEP_INTERVAL", time.Minute),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.PlatformURL == "" {
		return fmt.Errorf("SANDLOFT_PLATFORM_URL is required")
	}
	if c.PlatformToken == "" {
		return fmt.Errorf("SANDLOFT_PLATFORM_TOKEN is required")
	}
	return nil
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// TelegramEnabled returns true if Telegram notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// SandboxEnv returns environment variables to pass to every sandbox.
func (c *Config) SandboxEnv() map[string]string {
	env := map[string]string{}
	if c.GitHubToken != "" {
		env["GITHUB_TOKEN"] = c.GitHubToken
	}
	if c.AnthropicAPIKey != "" {
		env["ANTHROPIC_API_KEY"] = c.AnthropicAPIKey
	}
	if c.OpenAIAPIKey != "" {
		env["OPENAI_API_KEY"] = c.OpenAIAPIKey
	}
	return env
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sandloft"
	}
	return filepath.Join(home, ".sandloft")
}
