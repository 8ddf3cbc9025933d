package memtools

import (
	"context"

	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
)

// BriefingTool handles get_briefing, the session-start operation.
type BriefingTool struct{ base }

// NewBriefingTool creates a BriefingTool.
func NewBriefingTool(d *dispatch.Dispatcher) *BriefingTool {
	return &BriefingTool{base{d}}
}

// Definition returns the MCP tool definition for get_briefing.
func (t *BriefingTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpGetBriefing,
		mcp.WithDescription(
			"Start a session for a project and get its briefing: recent decisions, warnings, failed approaches and active rules. "+
				"Call this FIRST in every session. Every other memory operation except health is refused until it has run.",
		),
		projectParam(),
		mcp.WithString("session_id",
			mcp.Description("Resume this session id (default: the current session, or a new one)"),
		),
	)
}

// Handle processes the get_briefing tool call.
func (t *BriefingTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpGetBriefing, req, func(a *args) dispatch.Request {
		return &dispatch.BriefingRequest{ProjectRef: a.ref(), SessionID: a.str("session_id")}
	})
}

// ContextCheckTool handles context_check, the consultation operation.
type ContextCheckTool struct{ base }

// NewContextCheckTool creates a ContextCheckTool.
func NewContextCheckTool(d *dispatch.Dispatcher) *ContextCheckTool {
	return &ContextCheckTool{base{d}}
}

// Definition returns the MCP tool definition for context_check.
func (t *ContextCheckTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpContextCheck,
		mcp.WithDescription(
			"Describe what you are about to do and get the relevant memories, matching rules and warnings about past failures. "+
				"Returns a preflight_token that authorizes mutations for a few minutes. Call this BEFORE remember, link, rule or maintenance operations.",
		),
		projectParam(),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("The intended change, in plain words (e.g. 'switch session storage to Redis')"),
		),
	)
}

// Handle processes the context_check tool call.
func (t *ContextCheckTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpContextCheck, req, func(a *args) dispatch.Request {
		return &dispatch.ContextCheckRequest{ProjectRef: a.ref(), Action: a.str("action")}
	})
}

// HealthTool handles health.
type HealthTool struct{ base }

// NewHealthTool creates a HealthTool.
func NewHealthTool(d *dispatch.Dispatcher) *HealthTool {
	return &HealthTool{base{d}}
}

// Definition returns the MCP tool definition for health.
func (t *HealthTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpHealth,
		mcp.WithDescription("Report storage, index, embedder and covenant health for a project. Works in any session state."),
		projectParam(),
	)
}

// Handle processes the health tool call.
func (t *HealthTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpHealth, req, func(a *args) dispatch.Request {
		return &dispatch.HealthRequest{ProjectRef: a.ref()}
	})
}
