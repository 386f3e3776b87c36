package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/halcyonlabs/halcyon/internal/links"
	"github.com/halcyonlabs/halcyon/internal/mcp"
	"github.com/halcyonlabs/halcyon/internal/observability"
	"github.com/halcyonlabs/halcyon/internal/session"
)

// ToolBinder establishes and tears down tool-provider connections.
// *mcp.Manager is the production implementation.
type ToolBinder interface {
	ConnectAll(ctx context.Context, specs []mcp.ProviderSpec, connectTimeout time.Duration) []*mcp.Conn
	CloseAll(conns []*mcp.Conn, cleanupTimeout time.Duration)
}

// Preprocessor bounds fetched content before it reaches the model.
type Preprocessor interface {
	Process(ctx context.Context, text string) (string, error)
}

// Fetcher downloads page content for URLs found in a turn.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config configures the orchestrator.
type Config struct {
	// SystemPrompt is passed to the model on every invocation.
	SystemPrompt string

	// ConnectTimeout bounds each tool-provider connection attempt.
	ConnectTimeout time.Duration

	// CleanupTimeout bounds each tool-provider close.
	CleanupTimeout time.Duration

	// MaxLinks caps how many URLs of a turn are fetched.
	MaxLinks int

	// FallbackChars bounds the raw-text fallback when preprocessing
	// fails. Keep aligned with the preprocessor's single-chunk
	// threshold.
	FallbackChars int

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger

	// Tracer is optional; when unset, spans are non-recording.
	Tracer *observability.Tracer
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.CleanupTimeout == 0 {
		c.CleanupTimeout = 10 * time.Second
	}
	if c.MaxLinks == 0 {
		c.MaxLinks = links.DefaultMaxLinks
	}
	if c.FallbackChars == 0 {
		c.FallbackChars = 10_000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tracer == nil {
		c.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return nil
}

const defaultSystemPrompt = `You are a helpful assistant. Be concise and direct. ` +
	`Use the available tools when they help answer the question, and say so when you cannot verify a claim.`

// Turn is one inbound conversation turn.
type Turn struct {
	// Key scopes the turn to its reply thread.
	Key session.ThreadKey

	// Text is the user's message, possibly containing URLs.
	Text string
}

// Response is the orchestrator's output. Delivery (inline, paginated)
// is the presentation layer's concern.
type Response struct {
	Content string
	Title   string
}

// Orchestrator drives one conversation turn through its lifecycle.
// Invocations for different threads are independent; two concurrent
// invocations on the same thread resolve last-writer-wins on the
// persisted history.
type Orchestrator struct {
	provider Provider
	sessions *session.Store
	binder   ToolBinder
	specs    []mcp.ProviderSpec
	pre      Preprocessor
	fetcher  Fetcher
	metrics  *observability.Metrics
	config   Config
	logger   *slog.Logger
	tracer   *observability.Tracer
}

// New creates an Orchestrator. metrics may be nil.
func New(
	provider Provider,
	sessions *session.Store,
	binder ToolBinder,
	specs []mcp.ProviderSpec,
	pre Preprocessor,
	fetcher Fetcher,
	metrics *observability.Metrics,
	config Config,
) *Orchestrator {
	_ = config.Validate()
	return &Orchestrator{
		provider: provider,
		sessions: sessions,
		binder:   binder,
		specs:    specs,
		pre:      pre,
		fetcher:  fetcher,
		metrics:  metrics,
		config:   config,
		logger:   config.Logger.With("component", "orchestrator"),
		tracer:   config.Tracer,
	}
}

// Run handles one turn: load history, expand and condense referenced
// URLs, bind reachable tools, invoke the model, persist the updated
// history, and return the output. Only a model failure is fatal; every
// other degradation is logged and absorbed.
func (o *Orchestrator) Run(ctx context.Context, turn Turn) (*Response, error) {
	logger := o.logger.With("run", uuid.NewString()[:8], "key", turn.Key.String())

	ctx, turnSpan := o.tracer.Start(ctx, "agent.turn",
		attribute.String("thread.key", turn.Key.String()),
		attribute.String("llm.provider", o.provider.Name()))
	defer turnSpan.End()

	// Loading. The store never raises; empty history is a valid outcome.
	_, loadSpan := o.tracer.Start(ctx, "session.load")
	history := o.sessions.Load(ctx, turn.Key)
	loadSpan.End()
	logger.Info("handling turn", "history_items", len(history))

	// Preprocessing.
	preCtx, preSpan := o.tracer.Start(ctx, "links.expand")
	text := o.expandLinks(preCtx, logger, turn.Text)
	preSpan.End()

	// ToolBinding. Whatever subset is Ready is passed forward; cleanup
	// runs even when the invocation is cancelled mid-flight.
	bindCtx, bindSpan := o.tracer.Start(ctx, "tools.connect")
	conns := o.binder.ConnectAll(bindCtx, o.specs, o.config.ConnectTimeout)
	bindSpan.SetAttributes(attribute.Int("tools.ready", len(conns)))
	bindSpan.End()
	defer o.binder.CloseAll(conns, o.config.CleanupTimeout)
	o.metrics.RecordProviderConnects(len(conns), len(o.specs)-len(conns))

	// Running. Seq is left zero here; the store renumbers the whole
	// history when it is persisted.
	userItem := session.Item{Role: "user", Content: text, Kind: session.KindMessage}
	req := &CompletionRequest{
		System:  o.config.SystemPrompt,
		History: append(slices.Clone(history), userItem),
		Tools:   mcp.Schemas(conns),
		Invoke:  toolInvoker(conns, logger),
	}

	runCtx, runSpan := o.tracer.Start(ctx, "model.complete")
	start := time.Now()
	result, err := o.provider.Complete(runCtx, req)
	o.metrics.ObserveModelDuration(o.provider.Name(), time.Since(start).Seconds())
	if err != nil {
		observability.RecordError(runSpan, err)
		runSpan.End()
		observability.RecordError(turnSpan, err)
		o.metrics.RecordInvocation("error")
		logger.Error("model invocation failed", "provider", o.provider.Name(), "error", err)
		return nil, fmt.Errorf("model invocation: %w", err)
	}
	runSpan.End()
	if result.Content == "" {
		err := fmt.Errorf("model returned an empty response")
		observability.RecordError(turnSpan, err)
		o.metrics.RecordInvocation("error")
		return nil, err
	}

	// Persisting. Store failures are swallowed and logged inside the
	// store; the response is never withheld because persistence failed.
	_, persistSpan := o.tracer.Start(ctx, "session.persist")
	o.sessions.Append(ctx, turn.Key, append([]session.Item{userItem}, result.Items...))
	persistSpan.End()

	o.metrics.RecordInvocation("success")
	logger.Info("turn complete", "new_items", len(result.Items)+1)
	return &Response{Content: result.Content, Title: "Agent Response"}, nil
}

// Sessions exposes the session store for front-ends that re-anchor
// history after delivering a response.
func (o *Orchestrator) Sessions() *session.Store { return o.sessions }

// expandLinks replaces each URL in the turn with a condensed rendition
// of its content. Fetch failures leave the URL untouched; condensation
// failures fall back to the raw text truncated to FallbackChars.
// Preprocessing is never fatal to the turn.
func (o *Orchestrator) expandLinks(ctx context.Context, logger *slog.Logger, text string) string {
	urls := links.Extract(text, o.config.MaxLinks)
	for _, url := range urls {
		content, err := o.fetcher.Fetch(ctx, url)
		if err != nil {
			logger.Error("failed to load url, keeping original text", "url", url, "error", err)
			continue
		}

		processed, err := o.pre.Process(ctx, content)
		if err != nil {
			logger.Error("preprocessing failed, falling back to truncated raw content", "url", url, "error", err)
			processed = truncateRunes(content, o.config.FallbackChars)
			o.metrics.RecordPreprocess("fallback")
		} else if processed == content {
			o.metrics.RecordPreprocess("passthrough")
		} else {
			o.metrics.RecordPreprocess("condensed")
		}

		block := fmt.Sprintf("[web content from %s]:\n'''\n%s\n'''\n[end of web content]\n", url, processed)
		text = strings.Replace(text, url, block, 1)
		logger.Info("url content injected", "url", url, "chars", utf8.RuneCountInString(processed))
	}
	return text
}

// toolInvoker routes a tool call to whichever connection advertises
// the tool.
func toolInvoker(conns []*mcp.Conn, logger *slog.Logger) ToolInvoker {
	if len(conns) == 0 {
		return nil
	}
	return func(ctx context.Context, tool string, arguments map[string]any) (string, error) {
		conn, ok := mcp.FindTool(conns, tool)
		if !ok {
			return "", fmt.Errorf("no provider serves tool %q", tool)
		}
		logger.Info("invoking tool", "tool", tool, "provider", conn.Name())
		return conn.CallTool(ctx, tool, arguments)
	}
}

func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
