package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
log:
  level: debug
  format: json
telegram:
  token: "123:abc"
  allowed_chats: [100, 200]
llm:
  provider: anthropic
  anthropic:
    api_key: sk-ant-test
    model: claude-sonnet-4-20250514
session:
  backend: redis
  redis_url: redis://localhost:6379/0
  max_items: 30
  ttl: 72h
tools:
  connect_timeout: 5s
  providers:
    - name: search-tool
      command: /usr/local/bin/search-mcp
      args: ["--verbose"]
      env:
        SEARCH_API_KEY: ""
preprocess:
  single_chunk_threshold: 8000
fetch:
  timeout: 15s
metrics:
  enabled: true
tracing:
  endpoint: otel-collector:4317
  sample_rate: 0.25
  insecure: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.AllowedChats) != 2 {
		t.Errorf("unexpected telegram config: %+v", cfg.Telegram)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Anthropic.APIKey != "sk-ant-test" {
		t.Errorf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Session.TTL.Duration != 72*time.Hour || cfg.Session.MaxItems != 30 {
		t.Errorf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Tools.ConnectTimeout.Duration != 5*time.Second {
		t.Errorf("connect timeout = %v, want 5s", cfg.Tools.ConnectTimeout.Duration)
	}
	if cfg.Tools.CleanupTimeout.Duration != 10*time.Second {
		t.Errorf("cleanup timeout default = %v, want 10s", cfg.Tools.CleanupTimeout.Duration)
	}
	if len(cfg.Tools.Providers) != 1 || cfg.Tools.Providers[0].Name != "search-tool" {
		t.Errorf("unexpected providers: %+v", cfg.Tools.Providers)
	}
	if cfg.Metrics.Listen != ":9090" {
		t.Errorf("metrics listen default = %q, want :9090", cfg.Metrics.Listen)
	}
	if cfg.Tracing.Endpoint != "otel-collector:4317" || cfg.Tracing.SampleRate != 0.25 || !cfg.Tracing.Insecure {
		t.Errorf("unexpected tracing config: %+v", cfg.Tracing)
	}
	if cfg.Tracing.Environment != "production" {
		t.Errorf("tracing environment default = %q, want production", cfg.Tracing.Environment)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("telegram:\n  token: \"123:abc\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("provider default = %q, want openai", cfg.LLM.Provider)
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("backend default = %q, want memory", cfg.Session.Backend)
	}
	if cfg.Tools.ConnectTimeout.Duration != 30*time.Second {
		t.Errorf("connect timeout default = %v, want 30s", cfg.Tools.ConnectTimeout.Duration)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("sample rate default = %v, want 1.0", cfg.Tracing.SampleRate)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing token", "log:\n  level: info\n", "telegram.token"},
		{"bad level", "log:\n  level: loud\ntelegram:\n  token: t\n", "log level"},
		{"bad provider", "telegram:\n  token: t\nllm:\n  provider: cohere\n", "llm provider"},
		{"redis without url", "telegram:\n  token: t\nsession:\n  backend: redis\n", "redis_url"},
		{"sqlite without path", "telegram:\n  token: t\nsession:\n  backend: sqlite\n", "sqlite_path"},
		{"bad duration", "telegram:\n  token: t\nsession:\n  ttl: soon\n", "invalid duration"},
		{"unknown field", "telegram:\n  token: t\n  webhook: true\n", "field webhook not found"},
		{"provider missing command", "telegram:\n  token: t\ntools:\n  providers:\n    - name: x\n", "command"},
		{"sample rate out of range", "telegram:\n  token: t\ntracing:\n  sample_rate: 1.5\n", "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("HALCYON_TEST_TOKEN", "999:zzz")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "telegram:\n  token: \"${HALCYON_TEST_TOKEN}\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "999:zzz" {
		t.Errorf("token = %q, want expanded env value", cfg.Telegram.Token)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/halcyon.yaml"); err == nil {
		t.Error("want error for missing file")
	}
}
