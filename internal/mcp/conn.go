package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Conn is one established provider connection. It is owned by the
// Manager and scoped to a single orchestrator run; connections are
// never pooled or shared across runs.
type Conn struct {
	spec   ProviderSpec
	logger *slog.Logger

	transport *stdioTransport
	state     atomic.Int32

	establishedAt time.Time
	server        serverInfo
	tools         []*Tool

	// closeFn is overridable in tests.
	closeFn func() error
}

func newConn(spec ProviderSpec, logger *slog.Logger) *Conn {
	return &Conn{
		spec:   spec,
		logger: logger.With("provider", spec.Name),
	}
}

// connect launches the provider and performs the MCP handshake:
// initialize, the initialized notification, then tools/list. Any
// failure leaves the connection Failed with the process torn down.
func (c *Conn) connect(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	c.transport = newStdioTransport(c.spec, c.logger)
	if err := c.transport.start(); err != nil {
		c.state.Store(int32(StateFailed))
		return err
	}

	if err := c.handshake(ctx); err != nil {
		c.state.Store(int32(StateFailed))
		c.transport.close()
		return err
	}

	c.establishedAt = time.Now()
	c.state.Store(int32(StateReady))
	c.logger.Info("connected to tool provider",
		"server", c.server.Name,
		"version", c.server.Version,
		"tools", len(c.tools))
	return nil
}

func (c *Conn) handshake(ctx context.Context) error {
	result, err := c.transport.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "halcyon",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.server = init.ServerInfo

	if err := c.transport.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	toolsRaw, err := c.transport.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	var list listToolsResult
	if err := json.Unmarshal(toolsRaw, &list); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}
	c.tools = list.Tools
	return nil
}

// Name returns the provider name from the spec.
func (c *Conn) Name() string { return c.spec.Name }

// State returns the connection's lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// EstablishedAt returns when the connection reached Ready.
func (c *Conn) EstablishedAt() time.Time { return c.establishedAt }

// Tools returns the provider's advertised tools.
func (c *Conn) Tools() []*Tool { return c.tools }

// Schemas returns the provider's tools annotated with the provider
// name, ready for LLM tool binding.
func (c *Conn) Schemas() []ToolSchema {
	schemas := make([]ToolSchema, 0, len(c.tools))
	for _, tool := range c.tools {
		schemas = append(schemas, ToolSchema{
			Provider:    c.spec.Name,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return schemas
}

// CallTool invokes a tool and returns its text content. A result the
// provider flags as an error is surfaced as one.
func (c *Conn) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	if c.State() != StateReady {
		return "", fmt.Errorf("provider %q is %s", c.spec.Name, c.State())
	}

	raw, err := c.transport.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", name, c.spec.Name, err)
	}

	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse tool result: %w", err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, text)
	}
	return text, nil
}

// Close tears down the connection. Closing a Failed or already Closed
// connection is a no-op.
func (c *Conn) Close() error {
	switch c.State() {
	case StateFailed, StateClosed:
		return nil
	}
	c.state.Store(int32(StateClosed))
	if c.closeFn != nil {
		return c.closeFn()
	}
	if c.transport == nil {
		return nil
	}
	return c.transport.close()
}
