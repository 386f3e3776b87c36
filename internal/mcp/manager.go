package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager establishes and tears down provider connections for one
// orchestrator run at a time. Every connect and close attempt carries
// its own timeout budget so a single slow provider never delays the
// rest.
type Manager struct {
	logger *slog.Logger

	// connect is overridable in tests.
	connect func(ctx context.Context, spec ProviderSpec) (*Conn, error)
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger.With("component", "mcp")}
	m.connect = func(ctx context.Context, spec ProviderSpec) (*Conn, error) {
		conn := newConn(spec, m.logger)
		if err := conn.connect(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}
	return m
}

// ConnectAll attempts every provider concurrently, each attempt bounded
// by connectTimeout. Providers that fail or time out are logged and
// absent from the result; they never abort or delay the others. Only
// Ready connections are returned.
func (m *Manager) ConnectAll(ctx context.Context, specs []ProviderSpec, connectTimeout time.Duration) []*Conn {
	var (
		mu    sync.Mutex
		conns []*Conn
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		g.Go(func() error {
			attemptCtx, cancel := context.WithTimeout(gctx, connectTimeout)
			defer cancel()

			m.logger.Info("connecting to tool provider", "provider", spec.Name, "timeout", connectTimeout)
			conn, err := m.connect(attemptCtx, spec)
			if err != nil {
				// Failure stays local to this provider.
				m.logger.Error("failed to connect to tool provider", "provider", spec.Name, "error", err)
				return nil
			}

			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(conns) != len(specs) {
		m.logger.Warn("running with partial tool availability",
			"requested", len(specs), "ready", len(conns))
	}
	return conns
}

// CloseAll closes every connection concurrently, giving each its own
// cleanupTimeout budget; total wall-clock cost approximates the single
// largest budget, not the sum. Closing Failed or Closed connections is
// a no-op. Cleanup runs to completion even when the surrounding run
// was cancelled, which is why no context is taken here.
func (m *Manager) CloseAll(conns []*Conn, cleanupTimeout time.Duration) {
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()

			done := make(chan error, 1)
			go func() { done <- conn.Close() }()

			select {
			case err := <-done:
				if err != nil {
					m.logger.Error("failed to close tool provider", "provider", conn.Name(), "error", err)
					return
				}
				m.logger.Debug("closed tool provider",
				"provider", conn.Name(), "uptime", time.Since(conn.EstablishedAt()))
			case <-time.After(cleanupTimeout):
				m.logger.Error("cleanup timeout for tool provider",
					"provider", conn.Name(), "timeout", cleanupTimeout)
			}
		}()
	}
	wg.Wait()
}

// Schemas flattens the tool schemas of all connections.
func Schemas(conns []*Conn) []ToolSchema {
	var schemas []ToolSchema
	for _, conn := range conns {
		schemas = append(schemas, conn.Schemas()...)
	}
	return schemas
}

// FindTool locates the connection serving a tool by name.
func FindTool(conns []*Conn, name string) (*Conn, bool) {
	for _, conn := range conns {
		for _, tool := range conn.Tools() {
			if tool.Name == name {
				return conn, true
			}
		}
	}
	return nil, false
}
