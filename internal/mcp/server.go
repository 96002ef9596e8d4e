// Package mcp implements the MCP tool server for blockterm.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/blockterm/internal/config"
	"github.com/acolita/blockterm/internal/session"
)

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	sessions  sessionManager
	config    *config.Config
	version   string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSessionManager sets the manager handlers create and look up sessions
// in.
func WithSessionManager(sm sessionManager) ServerOption {
	return func(s *Server) {
		s.sessions = sm
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		config:  cfg,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessions == nil {
		s.sessions = session.NewManager(cfg, session.Options{})
	}

	s.mcpServer = server.NewMCPServer(
		"blockterm",
		s.version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	s.registerTools()

	return s
}

// Run serves MCP on stdio until the client disconnects, then closes every
// session.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport")
	defer s.sessions.CloseAll()
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a reloaded configuration to every session.
func (s *Server) UpdateConfig(cfg *config.Config) {
	slog.Debug("applying config update")
	s.config = cfg
	s.sessions.UpdateConfig(cfg)
	slog.Info("configuration hot-reloaded successfully")
}
