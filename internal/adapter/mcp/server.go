// Package mcp exposes the simulation to external cognition backends over the
// Model Context Protocol (streamable HTTP transport).
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/snapshot"
	"github.com/Strob0t/Habitat/internal/sim"
)

// Simulation is the slice of the simulation service the tool server drives.
type Simulation interface {
	Tools() []sim.Tool
	RequestAction(ctx context.Context, agentID, tool string, params json.RawMessage) (action.Result, error)
	AgentState(ctx context.Context, agentID string) (snapshot.AgentState, error)
	RoomState(ctx context.Context, roomID string) (snapshot.RoomState, error)
	WorldSnapshot(ctx context.Context) (json.RawMessage, error)
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Name    string
	Version string
	Path    string // endpoint path, e.g. "/mcp"
	APIKey  func() string // nil or "" disables auth
}

// ServerDeps holds the dependencies the tool handlers read from.
type ServerDeps struct {
	Sim Simulation
}

// Server wraps an mcp-go server with Habitat's tools and resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	if cfg.Path == "" {
		cfg.Path = "/mcp"
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	s.http = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(cfg.Path),
		mcpserver.WithStateLess(true),
	)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Path returns the endpoint path the handler should be mounted at.
func (s *Server) Path() string { return s.cfg.Path }

// Handler returns the streamable HTTP handler guarded by AuthMiddleware.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, s.http)
}
