package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Habitat/internal/domain/action"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listToolsTool(),
		s.requestActionTool(),
		s.getAgentStateTool(),
		s.getRoomStateTool(),
		s.getWorldStateTool(),
	)
}

func (s *Server) listToolsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_tools",
		mcplib.WithDescription("List the actions agents can take, with their parameter schemas"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListTools}
}

func (s *Server) requestActionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("request_action",
		mcplib.WithDescription("Run one action for an agent and return its result envelope"),
		mcplib.WithString("agent_id",
			mcplib.Required(),
			mcplib.Description("The acting agent's id"),
		),
		mcplib.WithString("tool",
			mcplib.Required(),
			mcplib.Description("Name of the action, as returned by list_tools"),
		),
		mcplib.WithObject("parameters",
			mcplib.Description("Action parameters matching the tool's schema"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRequestAction}
}

func (s *Server) getAgentStateTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_agent_state",
		mcplib.WithDescription("Get the flattened state of one agent"),
		mcplib.WithString("agent_id",
			mcplib.Required(),
			mcplib.Description("The agent id to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetAgentState}
}

func (s *Server) getRoomStateTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_room_state",
		mcplib.WithDescription("Get one room with its occupants"),
		mcplib.WithString("room_id",
			mcplib.Required(),
			mcplib.Description("The room id to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetRoomState}
}

func (s *Server) getWorldStateTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_world_state",
		mcplib.WithDescription("Get the full world snapshot: agents, rooms and relationships"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetWorldState}
}

func (s *Server) handleListTools(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Sim == nil {
		return mcplib.NewToolResultError("simulation not configured"), nil
	}
	data, err := json.Marshal(s.deps.Sim.Tools())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal tools", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleRequestAction(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Sim == nil {
		return mcplib.NewToolResultError("simulation not configured"), nil
	}
	args := req.GetArguments()
	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return mcplib.NewToolResultError("agent_id is required"), nil
	}
	tool, _ := args["tool"].(string)
	if tool == "" {
		return mcplib.NewToolResultError("tool is required"), nil
	}
	params, err := actionParams(args["parameters"])
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid parameters", err), nil
	}

	res, err := s.deps.Sim.RequestAction(ctx, agentID, tool, params)
	if err != nil {
		var rej *action.Rejected
		if errors.As(err, &rej) {
			data, _ := json.Marshal(rej)
			return mcplib.NewToolResultError(string(data)), nil
		}
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to run %s for agent %s", tool, agentID), err,
		), nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

// actionParams accepts parameters either as an object or as a JSON string.
func actionParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case string:
		if !json.Valid([]byte(p)) {
			return nil, errors.New("parameters is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

func (s *Server) handleGetAgentState(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Sim == nil {
		return mcplib.NewToolResultError("simulation not configured"), nil
	}
	agentID, _ := req.GetArguments()["agent_id"].(string)
	if agentID == "" {
		return mcplib.NewToolResultError("agent_id is required"), nil
	}
	st, err := s.deps.Sim.AgentState(ctx, agentID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get agent %s", agentID), err,
		), nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal agent", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetRoomState(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Sim == nil {
		return mcplib.NewToolResultError("simulation not configured"), nil
	}
	roomID, _ := req.GetArguments()["room_id"].(string)
	if roomID == "" {
		return mcplib.NewToolResultError("room_id is required"), nil
	}
	st, err := s.deps.Sim.RoomState(ctx, roomID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get room %s", roomID), err,
		), nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal room", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetWorldState(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Sim == nil {
		return mcplib.NewToolResultError("simulation not configured"), nil
	}
	data, err := s.deps.Sim.WorldSnapshot(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to build world snapshot", err), nil
	}
	return toolResultJSON(string(data)), nil
}

// toolResultJSON wraps a JSON document as a text tool result.
func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}
