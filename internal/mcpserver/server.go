// Package mcpserver exposes session operations as MCP tools over stdio.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// Engine is the subset of the orchestration engine the tools call.
type Engine interface {
	Create(ctx context.Context, intent, sessionID string, maxIterations int) (string, error)
	GetState(ctx context.Context, sessionID string) (*blackboard.State, error)
	Approve(ctx context.Context, sessionID string, edited *string) (*blackboard.State, error)
	Halt(ctx context.Context, sessionID string) (*blackboard.State, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "foundry")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// Server registers the session tools on an MCP server.
type Server struct {
	mcp    *mcp.Server
	engine Engine
	logger *zap.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg *Config, engine Engine) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Name == "" {
		cfg.Name = "foundry"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		mcp:    mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		engine: engine,
		logger: cfg.Logger,
	}
	s.registerTools()

	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
