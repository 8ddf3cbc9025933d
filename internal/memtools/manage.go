package memtools

import (
	"context"

	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
)

// PinTool handles pin_memory.
type PinTool struct{ base }

// NewPinTool creates a PinTool.
func NewPinTool(d *dispatch.Dispatcher) *PinTool {
	return &PinTool{base{d}}
}

// Definition returns the MCP tool definition for pin_memory.
func (t *PinTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpPinMemory,
		mcp.WithDescription("Pin a memory so pruning never archives it, or unpin it with pinned=false."),
		projectParam(),
		tokenParam(),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
		mcp.WithBoolean("pinned", mcp.Description("Default true")),
	)
}

// Handle processes the pin_memory tool call.
func (t *PinTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpPinMemory, req, func(a *args) dispatch.Request {
		return &dispatch.PinRequest{Gated: a.gated(), ID: a.int64("id"), Pinned: a.boolPtr("pinned")}
	})
}

// ArchiveTool handles archive_memory.
type ArchiveTool struct{ base }

// NewArchiveTool creates an ArchiveTool.
func NewArchiveTool(d *dispatch.Dispatcher) *ArchiveTool {
	return &ArchiveTool{base{d}}
}

// Definition returns the MCP tool definition for archive_memory.
func (t *ArchiveTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpArchiveMemory,
		mcp.WithDescription("Archive memories. Archived memories leave retrieval but stay addressable by id."),
		projectParam(),
		tokenParam(),
		mcp.WithArray("ids",
			mcp.Required(),
			mcp.Description("Memory ids"),
			mcp.Items(map[string]any{"type": "integer"}),
		),
		mcp.WithString("reason", mcp.Description("Why they are archived")),
	)
}

// Handle processes the archive_memory tool call.
func (t *ArchiveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpArchiveMemory, req, func(a *args) dispatch.Request {
		return &dispatch.ArchiveRequest{Gated: a.gated(), IDs: a.int64s("ids"), Reason: a.str("reason")}
	})
}

// CleanupTool handles cleanup_memories.
type CleanupTool struct{ base }

// NewCleanupTool creates a CleanupTool.
func NewCleanupTool(d *dispatch.Dispatcher) *CleanupTool {
	return &CleanupTool{base{d}}
}

// Definition returns the MCP tool definition for cleanup_memories.
func (t *CleanupTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpCleanupMemories,
		mcp.WithDescription("Find duplicate memories. With dry_run=false, keep the newest of each group and archive the rest."),
		projectParam(),
		tokenParam(),
		mcp.WithBoolean("dry_run", mcp.Description("Preview only (default true)")),
	)
}

// Handle processes the cleanup_memories tool call.
func (t *CleanupTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpCleanupMemories, req, func(a *args) dispatch.Request {
		return &dispatch.CleanupRequest{Gated: a.gated(), DryRun: a.boolPtr("dry_run")}
	})
}

// PruneTool handles prune_memories.
type PruneTool struct{ base }

// NewPruneTool creates a PruneTool.
func NewPruneTool(d *dispatch.Dispatcher) *PruneTool {
	return &PruneTool{base{d}}
}

// Definition returns the MCP tool definition for prune_memories.
func (t *PruneTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpPruneMemories,
		mcp.WithDescription("Archive old decisions and learnings that were never recalled and are not pinned."),
		projectParam(),
		tokenParam(),
		mcp.WithNumber("older_than_days", mcp.Description("Age threshold (default 90)")),
		mcp.WithBoolean("dry_run", mcp.Description("Preview only (default true)")),
	)
}

// Handle processes the prune_memories tool call.
func (t *PruneTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpPruneMemories, req, func(a *args) dispatch.Request {
		return &dispatch.PruneRequest{Gated: a.gated(), OlderThanDays: a.int("older_than_days"), DryRun: a.boolPtr("dry_run")}
	})
}

// RebuildIndexTool handles rebuild_index.
type RebuildIndexTool struct{ base }

// NewRebuildIndexTool creates a RebuildIndexTool.
func NewRebuildIndexTool(d *dispatch.Dispatcher) *RebuildIndexTool {
	return &RebuildIndexTool{base{d}}
}

// Definition returns the MCP tool definition for rebuild_index.
func (t *RebuildIndexTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpRebuildIndex,
		mcp.WithDescription("Rebuild the keyword and vector indices from storage, embedding records that lack a vector."),
		projectParam(),
		tokenParam(),
	)
}

// Handle processes the rebuild_index tool call.
func (t *RebuildIndexTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpRebuildIndex, req, func(a *args) dispatch.Request {
		return &dispatch.RebuildIndexRequest{Gated: a.gated()}
	})
}

// RebuildCommunitiesTool handles rebuild_communities.
type RebuildCommunitiesTool struct{ base }

// NewRebuildCommunitiesTool creates a RebuildCommunitiesTool.
func NewRebuildCommunitiesTool(d *dispatch.Dispatcher) *RebuildCommunitiesTool {
	return &RebuildCommunitiesTool{base{d}}
}

// Definition returns the MCP tool definition for rebuild_communities.
func (t *RebuildCommunitiesTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpRebuildCommunities,
		mcp.WithDescription("Regroup memories into topic communities used to answer overview questions."),
		projectParam(),
		tokenParam(),
	)
}

// Handle processes the rebuild_communities tool call.
func (t *RebuildCommunitiesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpRebuildCommunities, req, func(a *args) dispatch.Request {
		return &dispatch.RebuildCommunitiesRequest{Gated: a.gated()}
	})
}
