// Command halcyon runs the conversational agent bot: a Telegram front
// end wired to an LLM provider, MCP tool providers, and a session
// store for reply-threaded conversation history.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/halcyonlabs/halcyon/internal/agent"
	"github.com/halcyonlabs/halcyon/internal/agent/providers"
	"github.com/halcyonlabs/halcyon/internal/config"
	"github.com/halcyonlabs/halcyon/internal/links"
	"github.com/halcyonlabs/halcyon/internal/mcp"
	"github.com/halcyonlabs/halcyon/internal/observability"
	"github.com/halcyonlabs/halcyon/internal/preprocess"
	"github.com/halcyonlabs/halcyon/internal/session"
	"github.com/halcyonlabs/halcyon/internal/telegram"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "halcyon",
		Short:        "Halcyon - conversational agent bot",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "halcyon.yaml", "Path to config file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := buildBackend(ctx, cfg.Session)
	if err != nil {
		return fmt.Errorf("session backend: %w", err)
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}

	store := session.NewStore(backend, session.Options{
		MaxItems: cfg.Session.MaxItems,
		TTL:      cfg.Session.TTL.Duration,
		Logger:   logger,
	})

	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "halcyon",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("trace exporter shutdown failed", "error", err)
		}
	}()

	provider, condenser, err := buildProvider(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	pre := preprocess.New(condenser, preprocess.Config{
		SingleChunkThreshold: cfg.Preprocess.SingleChunkThreshold,
		MaxSynthesisChars:    cfg.Preprocess.MaxSynthesisChars,
		Logger:               logger,
	})

	fetcher := links.NewFetcher(links.FetcherConfig{
		Timeout:      cfg.Fetch.Timeout.Duration,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Logger:       logger,
	})

	orch := agent.New(provider, store, mcp.NewManager(logger), cfg.Tools.Providers, pre, fetcher, metrics, agent.Config{
		SystemPrompt:   cfg.Agent.SystemPrompt,
		ConnectTimeout: cfg.Tools.ConnectTimeout.Duration,
		CleanupTimeout: cfg.Tools.CleanupTimeout.Duration,
		MaxLinks:       cfg.Fetch.MaxLinks,
		FallbackChars:  cfg.Agent.FallbackChars,
		Logger:         logger,
		Tracer:         tracer,
	})

	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics.Listen, logger)
	}

	adapter, err := telegram.NewAdapter(telegram.Config{
		Token:        cfg.Telegram.Token,
		AllowedChats: cfg.Telegram.AllowedChats,
		Logger:       logger,
	}, orch)
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}

	logger.Info("halcyon starting",
		"version", version,
		"provider", provider.Name(),
		"session_backend", cfg.Session.Backend,
		"tool_providers", len(cfg.Tools.Providers))

	if err := adapter.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("halcyon stopped")
	return nil
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildBackend(ctx context.Context, cfg config.SessionConfig) (session.Backend, error) {
	switch cfg.Backend {
	case "redis":
		return session.NewRedisBackend(ctx, cfg.RedisURL)
	case "sqlite":
		return session.NewSQLiteBackend(cfg.SQLitePath)
	default:
		return session.NewMemoryBackend(), nil
	}
}

// buildProvider constructs the configured model provider. The OpenAI
// client also backs the preprocessor's condenser; when Anthropic is
// selected for conversation, condensation still needs an OpenAI key.
func buildProvider(cfg config.LLMConfig, logger *slog.Logger) (agent.Provider, preprocess.Condenser, error) {
	openaiProvider, openaiErr := providers.NewOpenAIProvider(providers.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Logger:  logger,
	})

	if cfg.Provider == "anthropic" {
		anthropicProvider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:    cfg.Anthropic.APIKey,
			BaseURL:   cfg.Anthropic.BaseURL,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if openaiErr != nil {
			return nil, nil, fmt.Errorf("condenser needs an openai key: %w", openaiErr)
		}
		return anthropicProvider, providers.NewCondenser(openaiProvider), nil
	}

	if openaiErr != nil {
		return nil, nil, openaiErr
	}
	return openaiProvider, providers.NewCondenser(openaiProvider), nil
}

func startMetricsServer(ctx context.Context, listen string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: listen, Handler: mux}
	go func() {
		logger.Info("metrics listener started", "addr", listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
