package mcp

import (
	"context"
	"encoding/json"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const agentURIPrefix = "habitat://agents/"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"habitat://world",
			"World Snapshot",
			mcplib.WithResourceDescription("Current world: agents, rooms and relationships"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleWorldResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			agentURIPrefix+"{id}",
			"Agent State",
			mcplib.WithTemplateDescription("Flattened state of one agent"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAgentResource,
	)
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}

func (s *Server) handleWorldResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Sim == nil {
		return jsonContents(req.Params.URI, `{"error":"simulation not configured"}`), nil
	}
	data, err := s.deps.Sim.WorldSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handleAgentResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Sim == nil {
		return jsonContents(req.Params.URI, `{"error":"simulation not configured"}`), nil
	}
	st, err := s.deps.Sim.AgentState(ctx, strings.TrimPrefix(req.Params.URI, agentURIPrefix))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}
