// Package config loads and validates the halcyon configuration file.
// Values support ${VAR} environment expansion so secrets stay out of
// the file itself.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyonlabs/halcyon/internal/mcp"
)

// Duration wraps time.Duration so YAML values can use Go duration
// strings like "30s" or "168h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration document.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	LLM        LLMConfig        `yaml:"llm"`
	Session    SessionConfig    `yaml:"session"`
	Tools      ToolsConfig      `yaml:"tools"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Agent      AgentConfig      `yaml:"agent"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// TelegramConfig configures the Telegram front end.
type TelegramConfig struct {
	Token        string  `yaml:"token"`
	AllowedChats []int64 `yaml:"allowed_chats"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	// Provider is "openai" or "anthropic".
	Provider  string          `yaml:"provider"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// OpenAIConfig holds OpenAI credentials and model selection.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AnthropicConfig holds Anthropic credentials and model selection.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// SessionConfig selects the conversation history backend.
type SessionConfig struct {
	// Backend is "memory", "redis", or "sqlite".
	Backend    string   `yaml:"backend"`
	RedisURL   string   `yaml:"redis_url"`
	SQLitePath string   `yaml:"sqlite_path"`
	MaxItems   int      `yaml:"max_items"`
	TTL        Duration `yaml:"ttl"`
}

// ToolsConfig lists tool providers and their lifecycle budgets.
type ToolsConfig struct {
	ConnectTimeout Duration           `yaml:"connect_timeout"`
	CleanupTimeout Duration           `yaml:"cleanup_timeout"`
	Providers      []mcp.ProviderSpec `yaml:"providers"`
}

// PreprocessConfig bounds the web content condensation pipeline.
type PreprocessConfig struct {
	SingleChunkThreshold int `yaml:"single_chunk_threshold"`
	MaxSynthesisChars    int `yaml:"max_synthesis_chars"`
}

// FetchConfig bounds outbound page fetches.
type FetchConfig struct {
	Timeout      Duration `yaml:"timeout"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	MaxLinks     int      `yaml:"max_links"`
}

// AgentConfig tunes the orchestrator.
type AgentConfig struct {
	SystemPrompt  string `yaml:"system_prompt"`
	FallbackChars int    `yaml:"fallback_chars"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TracingConfig controls OTLP trace export. An empty endpoint leaves
// tracing disabled.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
	Insecure    bool    `yaml:"insecure"`
}

// Validate checks cross-field requirements and applies defaults for
// everything the file leaves unset.
func (c *Config) Validate() error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}

	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}

	switch c.LLM.Provider {
	case "":
		c.LLM.Provider = "openai"
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid llm provider %q", c.LLM.Provider)
	}

	switch c.Session.Backend {
	case "":
		c.Session.Backend = "memory"
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("session.redis_url is required for the redis backend")
		}
	case "sqlite":
		if c.Session.SQLitePath == "" {
			return fmt.Errorf("session.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid session backend %q", c.Session.Backend)
	}

	if c.Tools.ConnectTimeout.Duration == 0 {
		c.Tools.ConnectTimeout.Duration = 30 * time.Second
	}
	if c.Tools.CleanupTimeout.Duration == 0 {
		c.Tools.CleanupTimeout.Duration = 10 * time.Second
	}
	for i := range c.Tools.Providers {
		if err := c.Tools.Providers[i].Validate(); err != nil {
			return fmt.Errorf("tools.providers[%d]: %w", i, err)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}

	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate %v is outside [0, 1]", c.Tracing.SampleRate)
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = "production"
	}

	return nil
}
