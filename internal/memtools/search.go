package memtools

import (
	"context"

	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
)

// RecallTool handles recall, routed hybrid retrieval.
type RecallTool struct{ base }

// NewRecallTool creates a RecallTool.
func NewRecallTool(d *dispatch.Dispatcher) *RecallTool {
	return &RecallTool{base{d}}
}

// Definition returns the MCP tool definition for recall.
func (t *RecallTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Retrieve the memories most relevant to a question. Overview questions use topic communities, " +
				"lookups use hybrid keyword and semantic search, and 'why'/'what led to' questions also follow relations.",
		),
		projectParam(),
		mcp.WithString("query", mcp.Required(), mcp.Description("What you want to know")),
		mcp.WithString("complexity",
			mcp.Description("Override the automatic query classification"),
			mcp.Enum("SIMPLE", "MEDIUM", "COMPLEX"),
		),
	}
	return mcp.NewTool(dispatch.OpRecall, append(opts, filterParams()...)...)
}

// Handle processes the recall tool call.
func (t *RecallTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpRecall, req, func(a *args) dispatch.Request {
		return &dispatch.RecallRequest{
			ProjectRef: a.ref(),
			Filters:    a.filters(),
			Query:      a.str("query"),
			Complexity: a.str("complexity"),
		}
	})
}

// SearchTool handles search_memories, keyword-only search.
type SearchTool struct{ base }

// NewSearchTool creates a SearchTool.
func NewSearchTool(d *dispatch.Dispatcher) *SearchTool {
	return &SearchTool{base{d}}
}

// Definition returns the MCP tool definition for search_memories.
func (t *SearchTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Keyword search over stored memories. Use it for exact names, identifiers and file paths."),
		projectParam(),
		mcp.WithString("query", mcp.Required(), mcp.Description("Keywords to match")),
	}
	return mcp.NewTool(dispatch.OpSearchMemories, append(opts, filterParams()...)...)
}

// Handle processes the search_memories tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpSearchMemories, req, func(a *args) dispatch.Request {
		return &dispatch.SearchRequest{ProjectRef: a.ref(), Filters: a.filters(), Query: a.str("query")}
	})
}

// GetMemoryTool handles get_memory.
type GetMemoryTool struct{ base }

// NewGetMemoryTool creates a GetMemoryTool.
func NewGetMemoryTool(d *dispatch.Dispatcher) *GetMemoryTool {
	return &GetMemoryTool{base{d}}
}

// Definition returns the MCP tool definition for get_memory.
func (t *GetMemoryTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpGetMemory,
		mcp.WithDescription("Fetch one memory by id with its relations. detail_level=full adds the version history."),
		projectParam(),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
		mcp.WithString("detail_level",
			mcp.Description("summary, standard (default) or full"),
			mcp.Enum("summary", "standard", "full"),
		),
	)
}

// Handle processes the get_memory tool call.
func (t *GetMemoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpGetMemory, req, func(a *args) dispatch.Request {
		return &dispatch.GetMemoryRequest{ProjectRef: a.ref(), ID: a.int64("id"), DetailLevel: a.str("detail_level")}
	})
}

// ExportTool handles export_memories.
type ExportTool struct{ base }

// NewExportTool creates an ExportTool.
func NewExportTool(d *dispatch.Dispatcher) *ExportTool {
	return &ExportTool{base{d}}
}

// Definition returns the MCP tool definition for export_memories.
func (t *ExportTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpExportMemories,
		mcp.WithDescription("Export every record, relation, rule and community of a project as JSON."),
		projectParam(),
	)
}

// Handle processes the export_memories tool call.
func (t *ExportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpExportMemories, req, func(a *args) dispatch.Request {
		return &dispatch.ExportRequest{ProjectRef: a.ref()}
	})
}
