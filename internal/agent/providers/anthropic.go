package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/halcyonlabs/halcyon/internal/agent"
	"github.com/halcyonlabs/halcyon/internal/mcp"
	"github.com/halcyonlabs/halcyon/internal/session"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Model is the Claude model to invoke.
	Model string

	// MaxTokens caps the length of each model response.
	MaxTokens int64

	// MaxToolRounds bounds how many tool-use round trips one
	// invocation may take before the model must answer.
	MaxToolRounds int

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate applies defaults.
func (c *AnthropicConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("anthropic api key is required")
	}
	if c.Model == "" {
		c.Model = "claude-sonnet-4-20250514"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// AnthropicProvider implements agent.Provider on the Anthropic
// Messages API. The SDK handles retries on rate limits and server
// errors internally. Safe for concurrent use.
type AnthropicProvider struct {
	client anthropic.Client
	config AnthropicConfig
	logger *slog.Logger
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		config: config,
		logger: config.Logger.With("component", "anthropic"),
	}, nil
}

// Name identifies the provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete runs one model invocation, dispatching tool_use blocks
// through req.Invoke until the model stops asking for tools.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: p.config.MaxTokens,
		Messages:  convertAnthropicHistory(req.History),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if tools, err := convertAnthropicTools(req.Tools); err != nil {
		return nil, err
	} else {
		params.Tools = tools
	}

	var items []session.Item
	for round := 0; round <= p.config.MaxToolRounds; round++ {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("messages: %w", err)
		}

		if msg.StopReason != anthropic.StopReasonToolUse || req.Invoke == nil {
			content := joinTextBlocks(msg)
			items = append(items, session.Item{Role: "assistant", Content: content, Kind: session.KindMessage})
			return &agent.CompletionResult{Content: content, Items: items}, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		var results []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			use, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			output, isError := p.dispatchToolUse(ctx, req.Invoke, use)
			items = append(items, session.Item{
				Role:    "assistant",
				Content: fmt.Sprintf("%s(%s) -> %s", use.Name, string(use.Input), output),
				Kind:    session.KindToolCall,
			})
			results = append(results, anthropic.NewToolResultBlock(use.ID, output, isError))
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))
	}

	return nil, fmt.Errorf("tool-use loop exceeded %d rounds", p.config.MaxToolRounds)
}

func (p *AnthropicProvider) dispatchToolUse(ctx context.Context, invoke agent.ToolInvoker, use anthropic.ToolUseBlock) (string, bool) {
	var arguments map[string]any
	if err := json.Unmarshal(use.Input, &arguments); err != nil {
		return fmt.Sprintf("invalid tool arguments: %v", err), true
	}

	output, err := invoke(ctx, use.Name, arguments)
	if err != nil {
		p.logger.Error("tool call failed", "tool", use.Name, "error", err)
		return err.Error(), true
	}
	return output, false
}

// convertAnthropicHistory renders plain dialogue turns for the
// Messages API. Tool records and placeholders stay out of the input.
func convertAnthropicHistory(history []session.Item) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, item := range history {
		if item.Kind != session.KindMessage || item.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(item.Content)
		if item.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return messages
}

func convertAnthropicTools(tools []mcp.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil && tool.Description != "" {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

func joinTextBlocks(msg *anthropic.Message) string {
	var content string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += text.Text
		}
	}
	return content
}
