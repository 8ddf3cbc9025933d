package memtools

import (
	"context"

	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
)

// RememberTool handles remember.
type RememberTool struct{ base }

// NewRememberTool creates a RememberTool.
func NewRememberTool(d *dispatch.Dispatcher) *RememberTool {
	return &RememberTool{base{d}}
}

// Definition returns the MCP tool definition for remember.
func (t *RememberTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpRemember,
		mcp.WithDescription(
			"Store a decision, pattern, warning or learning. Call this PROACTIVELY after significant work. "+
				"Identical content is not stored twice, and conflicts with past failures or warnings are reported back.",
		),
		projectParam(),
		tokenParam(),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("decision, pattern, warning or learning. Patterns and warnings never fade."),
			mcp.Enum("decision", "pattern", "warning", "learning"),
		),
		mcp.WithString("content", mcp.Required(), mcp.Description("The note itself, self-contained")),
		mcp.WithString("rationale", mcp.Description("Why, in a sentence or two")),
		stringList("tags", "Topic tags (e.g. auth, database)"),
		mcp.WithString("file_path", mcp.Description("File this note is about, absolute or relative to the project")),
		mcp.WithNumber("importance", mcp.Description("0.0 to 1.0 (default 0.5)")),
	)
}

// Handle processes the remember tool call.
func (t *RememberTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpRemember, req, func(a *args) dispatch.Request {
		return &dispatch.RememberRequest{
			Gated:      a.gated(),
			Category:   a.str("category"),
			Content:    a.str("content"),
			Rationale:  a.str("rationale"),
			Tags:       a.strings("tags"),
			FilePath:   a.str("file_path"),
			Importance: a.float("importance"),
		}
	})
}

// OutcomeTool handles record_outcome.
type OutcomeTool struct{ base }

// NewOutcomeTool creates an OutcomeTool.
func NewOutcomeTool(d *dispatch.Dispatcher) *OutcomeTool {
	return &OutcomeTool{base{d}}
}

// Definition returns the MCP tool definition for record_outcome.
func (t *OutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpRecordOutcome,
		mcp.WithDescription("Record whether acting on a memory worked or failed. Failed approaches are surfaced before similar changes."),
		projectParam(),
		tokenParam(),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
		mcp.WithString("outcome", mcp.Required(), mcp.Enum("worked", "failed")),
		mcp.WithString("note", mcp.Description("What happened")),
	)
}

// Handle processes the record_outcome tool call.
func (t *OutcomeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpRecordOutcome, req, func(a *args) dispatch.Request {
		return &dispatch.OutcomeRequest{
			Gated:   a.gated(),
			ID:      a.int64("id"),
			Outcome: a.str("outcome"),
			Note:    a.str("note"),
		}
	})
}
