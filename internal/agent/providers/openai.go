// Package providers contains model-collaborator implementations of
// the agent.Provider interface, plus the condenser backing the
// content preprocessor.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/halcyonlabs/halcyon/internal/agent"
	"github.com/halcyonlabs/halcyon/internal/mcp"
	"github.com/halcyonlabs/halcyon/internal/retry"
	"github.com/halcyonlabs/halcyon/internal/session"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string

	// BaseURL overrides the API endpoint for compatible gateways.
	BaseURL string

	// Model is the chat model to invoke, e.g. "gpt-4o".
	Model string

	// MaxToolRounds bounds how many tool-calling round trips one
	// invocation may take before the model must answer.
	MaxToolRounds int

	// Retry configures retries around transient API failures.
	Retry retry.Config

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate applies defaults.
func (c *OpenAIConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("openai api key is required")
	}
	if c.Model == "" {
		c.Model = openai.GPT4o
	}
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 10
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// OpenAIProvider implements agent.Provider on the OpenAI chat API,
// including the multi-turn function-calling loop. Safe for concurrent
// use.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: config.Logger.With("component", "openai"),
	}, nil
}

// Name identifies the provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete runs one model invocation, dispatching tool calls through
// req.Invoke until the model produces a final answer.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResult, error) {
	messages := convertHistory(req.System, req.History)
	tools := convertTools(req.Tools)

	var items []session.Item
	for round := 0; round <= p.config.MaxToolRounds; round++ {
		resp, err := retry.DoWithValue(ctx, p.config.Retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:    p.config.Model,
				Messages: messages,
				Tools:    tools,
			})
			return resp, classifyAPIError(err)
		})
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chat completion returned no choices")
		}

		choice := resp.Choices[0].Message
		if len(choice.ToolCalls) == 0 || req.Invoke == nil {
			items = append(items, session.Item{Role: "assistant", Content: choice.Content, Kind: session.KindMessage})
			return &agent.CompletionResult{Content: choice.Content, Items: items}, nil
		}

		messages = append(messages, choice)
		for _, call := range choice.ToolCalls {
			output := p.dispatchToolCall(ctx, req.Invoke, call)
			items = append(items, session.Item{
				Role:    "assistant",
				Content: fmt.Sprintf("%s(%s) -> %s", call.Function.Name, call.Function.Arguments, output),
				Kind:    session.KindToolCall,
			})
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, fmt.Errorf("tool-calling loop exceeded %d rounds", p.config.MaxToolRounds)
}

// dispatchToolCall runs one tool call and renders its outcome as tool
// output. Tool failures are reported back to the model rather than
// aborting the invocation.
func (p *OpenAIProvider) dispatchToolCall(ctx context.Context, invoke agent.ToolInvoker, call openai.ToolCall) string {
	var arguments map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &arguments); err != nil {
		return fmt.Sprintf("error: invalid tool arguments: %v", err)
	}

	output, err := invoke(ctx, call.Function.Name, arguments)
	if err != nil {
		p.logger.Error("tool call failed", "tool", call.Function.Name, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return output
}

// convertHistory renders the conversation for the chat API. Only plain
// dialogue turns are sent; tool records and placeholders never reach
// the model as input.
func convertHistory(system string, history []session.Item) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, item := range history {
		if item.Kind != session.KindMessage {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    item.Role,
			Content: item.Content,
		})
	}
	return messages
}

// convertTools renders bound tool schemas as OpenAI function
// definitions. A schema that fails to parse degrades to an empty
// object schema so one bad tool cannot break the rest.
func convertTools(tools []mcp.ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil || schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

// classifyAPIError marks client-side API errors permanent so the retry
// loop only spends attempts on rate limits and server errors.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && !retry.RetryableStatus(apiErr.HTTPStatusCode) {
		return retry.Permanent(err)
	}
	return err
}
