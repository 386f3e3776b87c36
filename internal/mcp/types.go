// Package mcp manages stdio tool-provider connections: launching
// provider processes, speaking JSON-RPC over their pipes, and binding
// their tools to a single orchestrator run. Partial availability is a
// normal operating mode here, not an error state.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
)

// ProviderSpec describes how to launch one tool provider. Specs are
// immutable once loaded.
type ProviderSpec struct {
	Name    string            `yaml:"name" json:"name"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
}

// Validate rejects malformed specs at load time rather than per
// connect.
func (s *ProviderSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if s.Command == "" {
		return fmt.Errorf("provider %q: command is required", s.Name)
	}
	return nil
}

// ResolveEnv renders a spec's env mapping as KEY=VALUE pairs. An
// empty-string value is substituted from the identically-named process
// environment variable at connect time; a missing runtime variable
// passes through as empty, not as an error.
func ResolveEnv(env map[string]string) []string {
	resolved := make([]string, 0, len(env))
	for name, value := range env {
		if value == "" {
			value = os.Getenv(name)
		}
		resolved = append(resolved, name+"="+value)
	}
	return resolved
}

// State is the lifecycle state of a provider connection.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Tool is one callable capability exposed by a provider.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolSchema is a tool definition annotated with its provider, in the
// shape LLM tool bindings consume.
type ToolSchema struct {
	Provider    string          `json:"provider"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// JSON-RPC 2.0 framing.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MCP protocol payloads.

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []*Tool `json:"tools"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type toolCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}
