package memtools

import (
	"context"

	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
)

// CheckRulesTool handles check_rules.
type CheckRulesTool struct{ base }

// NewCheckRulesTool creates a CheckRulesTool.
func NewCheckRulesTool(d *dispatch.Dispatcher) *CheckRulesTool {
	return &CheckRulesTool{base{d}}
}

// Definition returns the MCP tool definition for check_rules.
func (t *CheckRulesTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpCheckRules,
		mcp.WithDescription("List the enabled rules whose trigger matches an intended action, highest priority first."),
		projectParam(),
		mcp.WithString("action", mcp.Required(), mcp.Description("The intended action")),
	)
}

// Handle processes the check_rules tool call.
func (t *CheckRulesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpCheckRules, req, func(a *args) dispatch.Request {
		return &dispatch.CheckRulesRequest{ProjectRef: a.ref(), Action: a.str("action")}
	})
}

// ListRulesTool handles list_rules.
type ListRulesTool struct{ base }

// NewListRulesTool creates a ListRulesTool.
func NewListRulesTool(d *dispatch.Dispatcher) *ListRulesTool {
	return &ListRulesTool{base{d}}
}

// Definition returns the MCP tool definition for list_rules.
func (t *ListRulesTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpListRules,
		mcp.WithDescription("List the project's rules."),
		projectParam(),
		mcp.WithBoolean("include_disabled", mcp.Description("Include disabled rules (default false)")),
	)
}

// Handle processes the list_rules tool call.
func (t *ListRulesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpListRules, req, func(a *args) dispatch.Request {
		return &dispatch.ListRulesRequest{ProjectRef: a.ref(), IncludeDisabled: a.bool("include_disabled")}
	})
}

// AddRuleTool handles add_rule.
type AddRuleTool struct{ base }

// NewAddRuleTool creates an AddRuleTool.
func NewAddRuleTool(d *dispatch.Dispatcher) *AddRuleTool {
	return &AddRuleTool{base{d}}
}

// Definition returns the MCP tool definition for add_rule.
func (t *AddRuleTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpAddRule,
		mcp.WithDescription("Add a project rule: when an action matches the trigger, what must, must not and should be asked first."),
		projectParam(),
		tokenParam(),
		mcp.WithString("trigger", mcp.Required(), mcp.Description("Situation the rule applies to (e.g. 'database migration')")),
		stringList("must_do", "Required steps"),
		stringList("must_not", "Forbidden steps"),
		stringList("ask_first", "Questions to ask the user before acting"),
		stringList("warnings", "Things to keep in mind"),
		mcp.WithNumber("priority", mcp.Description("Higher runs first (default 0)")),
		mcp.WithBoolean("enabled", mcp.Description("Default true")),
	)
}

// Handle processes the add_rule tool call.
func (t *AddRuleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpAddRule, req, func(a *args) dispatch.Request {
		return &dispatch.AddRuleRequest{
			Gated:    a.gated(),
			Trigger:  a.str("trigger"),
			MustDo:   a.strings("must_do"),
			MustNot:  a.strings("must_not"),
			AskFirst: a.strings("ask_first"),
			Warnings: a.strings("warnings"),
			Priority: a.int("priority"),
			Enabled:  a.boolPtr("enabled"),
		}
	})
}

// UpdateRuleTool handles update_rule.
type UpdateRuleTool struct{ base }

// NewUpdateRuleTool creates an UpdateRuleTool.
func NewUpdateRuleTool(d *dispatch.Dispatcher) *UpdateRuleTool {
	return &UpdateRuleTool{base{d}}
}

// Definition returns the MCP tool definition for update_rule.
func (t *UpdateRuleTool) Definition() mcp.Tool {
	return mcp.NewTool(dispatch.OpUpdateRule,
		mcp.WithDescription("Change a rule. Omitted fields are left unchanged; set enabled=false to switch it off."),
		projectParam(),
		tokenParam(),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Rule id")),
		mcp.WithString("trigger", mcp.Description("New trigger")),
		stringList("must_do", "Replacement required steps"),
		stringList("must_not", "Replacement forbidden steps"),
		stringList("ask_first", "Replacement questions"),
		stringList("warnings", "Replacement warnings"),
		mcp.WithNumber("priority", mcp.Description("New priority")),
		mcp.WithBoolean("enabled", mcp.Description("Enable or disable")),
	)
}

// Handle processes the update_rule tool call.
func (t *UpdateRuleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.run(ctx, dispatch.OpUpdateRule, req, func(a *args) dispatch.Request {
		return &dispatch.UpdateRuleRequest{
			Gated:    a.gated(),
			ID:       a.int64("id"),
			Trigger:  a.strPtr("trigger"),
			MustDo:   a.strings("must_do"),
			MustNot:  a.strings("must_not"),
			AskFirst: a.strings("ask_first"),
			Warnings: a.strings("warnings"),
			Priority: a.intPtr("priority"),
			Enabled:  a.boolPtr("enabled"),
		}
	})
}
