package memtools

import (
	"context"

	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
)

// LinkTool handles link_memories.
type LinkTool struct{ base }

// NewLinkTool creates a LinkTool.
func NewLinkTool(d *dispatch.Dispatcher) *LinkTool {
	return &LinkTool{base{d}}
}

// Definition returns the MCP tool definition for link_memories.
func (t *LinkTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpLinkMemories,
		mcp.WithDescription("Create a directed relation between two memories, e.g. a decision that led_to a learning."),
		projectParam(),
		tokenParam(),
		mcp.WithNumber("from_id", mcp.Required(), mcp.Description("Source memory id")),
		mcp.WithNumber("to_id", mcp.Required(), mcp.Description("Target memory id")),
		mcp.WithString("type", mcp.Description("Relation type (default related_to)"), mcp.Enum(relationTypes...)),
		mcp.WithString("note", mcp.Description("Why the two are related")),
	)
}

// Handle processes the link_memories tool call.
func (t *LinkTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpLinkMemories, req, func(a *args) dispatch.Request {
		return &dispatch.LinkRequest{
			Gated:  a.gated(),
			FromID: a.int64("from_id"),
			ToID:   a.int64("to_id"),
			Type:   a.str("type"),
			Note:   a.str("note"),
		}
	})
}

// UnlinkTool handles unlink_memories.
type UnlinkTool struct{ base }

// NewUnlinkTool creates an UnlinkTool.
func NewUnlinkTool(d *dispatch.Dispatcher) *UnlinkTool {
	return &UnlinkTool{base{d}}
}

// Definition returns the MCP tool definition for unlink_memories.
func (t *UnlinkTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpUnlinkMemories,
		mcp.WithDescription("Remove a relation between two memories."),
		projectParam(),
		tokenParam(),
		mcp.WithNumber("from_id", mcp.Required(), mcp.Description("Source memory id")),
		mcp.WithNumber("to_id", mcp.Required(), mcp.Description("Target memory id")),
		mcp.WithString("type", mcp.Description("Relation type (default related_to)"), mcp.Enum(relationTypes...)),
	)
}

// Handle processes the unlink_memories tool call.
func (t *UnlinkTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpUnlinkMemories, req, func(a *args) dispatch.Request {
		return &dispatch.UnlinkRequest{
			Gated:  a.gated(),
			FromID: a.int64("from_id"),
			ToID:   a.int64("to_id"),
			Type:   a.str("type"),
		}
	})
}

// TraceTool handles trace_chain.
type TraceTool struct{ base }

// NewTraceTool creates a TraceTool.
func NewTraceTool(d *dispatch.Dispatcher) *TraceTool {
	return &TraceTool{base{d}}
}

// Definition returns the MCP tool definition for trace_chain.
func (t *TraceTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpTraceChain,
		mcp.WithDescription("Walk the relation graph from a memory to see what led to it and what followed."),
		projectParam(),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Starting memory id")),
		mcp.WithNumber("depth", mcp.Description("Hops to follow, 1 to 5 (default 2)")),
	)
}

// Handle processes the trace_chain tool call.
func (t *TraceTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpTraceChain, req, func(a *args) dispatch.Request {
		return &dispatch.TraceChainRequest{ProjectRef: a.ref(), ID: a.int64("id"), Depth: a.int("depth")}
	})
}
