// Package agent composes session storage, content preprocessing, and
// tool-provider binding into one request lifecycle around the model
// collaborator: load history, condense any referenced content, bind
// whatever tools are reachable, invoke the model, persist the updated
// history, and return the output.
package agent

import (
	"context"

	"github.com/halcyonlabs/halcyon/internal/mcp"
	"github.com/halcyonlabs/halcyon/internal/session"
)

// Provider is the model-invocation collaborator. Implementations own
// their multi-turn tool-calling loop and any provider-level retries.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Complete runs one model invocation over the accumulated history
	// with the given tool bindings.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
}

// ToolInvoker dispatches a tool call to whichever bound provider
// serves the named tool.
type ToolInvoker func(ctx context.Context, tool string, arguments map[string]any) (string, error)

// CompletionRequest carries everything a provider needs for one
// invocation.
type CompletionRequest struct {
	// System is the system prompt.
	System string

	// History is the conversation so far, newest last, including the
	// current user turn.
	History []session.Item

	// Tools are the schemas of every tool bound for this run. May be
	// empty: zero available providers is a degraded mode, not an error.
	Tools []mcp.ToolSchema

	// Invoke dispatches tool calls. Nil when no tools are bound.
	Invoke ToolInvoker
}

// CompletionResult is the outcome of one model invocation.
type CompletionResult struct {
	// Content is the final assistant text. Non-empty on success.
	Content string

	// Items are the new conversation items this invocation produced:
	// assistant turns plus tool-invocation records. Tool records are
	// filtered out again before persistence.
	Items []session.Item
}
