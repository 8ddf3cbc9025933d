// Package memtools exposes every warden operation as an MCP tool.
//
// Each tool follows the same pattern:
// - A struct holding the dispatcher, injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() coerces the arguments into a typed request and dispatches it
//
// Tools never touch storage directly; validation, covenant enforcement
// and error mapping all happen in the dispatcher.
package memtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"
)

// Tool is one registered MCP tool.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// All returns a tool for every operation, in registration order.
func All(d *dispatch.Dispatcher) []Tool {
	return []Tool{
		NewBriefingTool(d),
		NewContextCheckTool(d),
		NewHealthTool(d),
		NewRecallTool(d),
		NewSearchTool(d),
		NewGetMemoryTool(d),
		NewExportTool(d),
		NewRememberTool(d),
		NewOutcomeTool(d),
		NewLinkTool(d),
		NewUnlinkTool(d),
		NewTraceTool(d),
		NewCheckRulesTool(d),
		NewListRulesTool(d),
		NewAddRuleTool(d),
		NewUpdateRuleTool(d),
		NewPinTool(d),
		NewArchiveTool(d),
		NewCleanupTool(d),
		NewPruneTool(d),
		NewRebuildIndexTool(d),
		NewRebuildCommunitiesTool(d),
	}
}

// base runs built requests through the dispatcher.
type base struct {
	d *dispatch.Dispatcher
}

func (b base) run(ctx context.Context, op string, req mcp.CallToolRequest, build func(a *args) dispatch.Request) (*mcp.CallToolResult, error) {
	a := &args{m: req.GetArguments()}
	r := build(a)
	if a.err != nil {
		return respond(&dispatch.Response{Op: op, Error: &dispatch.Error{
			Code:    dispatch.CodeValidation,
			Field:   a.err.Field,
			Message: a.err.Message,
		}})
	}
	return respond(b.d.Dispatch(ctx, r))
}

// respond renders a dispatcher response as indented JSON. Failures are
// flagged as tool errors so clients surface them.
func respond(resp *dispatch.Response) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	if resp.Error != nil {
		return mcp.NewToolResultError(string(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// args coerces loosely typed tool arguments. Clients often send numbers
// as strings and lists as comma-separated text; both are accepted. The
// first coercion failure is kept and reported.
type args struct {
	m   map[string]any
	err *dispatch.ValidationError
}

func (a *args) get(key string) (any, bool) {
	v, ok := a.m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (a *args) fail(key, want string) {
	if a.err == nil {
		a.err = &dispatch.ValidationError{Field: key, Message: "must be " + want}
	}
}

func (a *args) str(key string) string {
	v, ok := a.get(key)
	if !ok {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		a.fail(key, "a string")
	}
	return s
}

func (a *args) strPtr(key string) *string {
	if _, ok := a.get(key); !ok {
		return nil
	}
	s := a.str(key)
	return &s
}

func (a *args) int64(key string) int64 {
	v, ok := a.get(key)
	if !ok {
		return 0
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		a.fail(key, "an integer")
	}
	return n
}

func (a *args) int(key string) int {
	return int(a.int64(key))
}

func (a *args) intPtr(key string) *int {
	if _, ok := a.get(key); !ok {
		return nil
	}
	n := a.int(key)
	return &n
}

func (a *args) float(key string) float64 {
	v, ok := a.get(key)
	if !ok {
		return 0
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		a.fail(key, "a number")
	}
	return f
}

func (a *args) bool(key string) bool {
	v, ok := a.get(key)
	if !ok {
		return false
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		a.fail(key, "a boolean")
	}
	return b
}

func (a *args) boolPtr(key string) *bool {
	if _, ok := a.get(key); !ok {
		return nil
	}
	b := a.bool(key)
	return &b
}

func (a *args) strings(key string) []string {
	v, ok := a.get(key)
	if !ok {
		return nil
	}
	if s, ok := v.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		a.fail(key, "a list of strings")
	}
	return out
}

func (a *args) int64s(key string) []int64 {
	v, ok := a.get(key)
	if !ok {
		return nil
	}
	var items []any
	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	default:
		s, err := cast.ToSliceE(v)
		if err != nil {
			items = []any{v}
		} else {
			items = s
		}
	}
	out := make([]int64, 0, len(items))
	for _, it := range items {
		n, err := cast.ToInt64E(it)
		if err != nil {
			a.fail(key, "a list of integers")
			return nil
		}
		out = append(out, n)
	}
	return out
}

func (a *args) ref() dispatch.ProjectRef {
	return dispatch.ProjectRef{ProjectPath: a.str("project_path")}
}

func (a *args) gated() dispatch.Gated {
	return dispatch.Gated{ProjectRef: a.ref(), PreflightToken: a.str("preflight_token")}
}

func (a *args) filters() dispatch.Filters {
	return dispatch.Filters{
		Categories:  a.strings("categories"),
		Tags:        a.strings("tags"),
		FilePath:    a.str("file_path"),
		Since:       a.str("since"),
		Until:       a.str("until"),
		Offset:      a.int("offset"),
		Limit:       a.int("limit"),
		DetailLevel: a.str("detail_level"),
	}
}

// ─── Shared schema options ───────────────────────────────────────────────────

func projectParam() mcp.ToolOption {
	return mcp.WithString("project_path",
		mcp.Required(),
		mcp.Description("Absolute path of the project root. Memory is isolated per project."),
	)
}

func tokenParam() mcp.ToolOption {
	return mcp.WithString("preflight_token",
		mcp.Description("Token returned by context_check. Optional while the last consultation is still live."),
	)
}

func stringList(name, desc string) mcp.ToolOption {
	return mcp.WithArray(name,
		mcp.Description(desc),
		mcp.Items(map[string]any{"type": "string"}),
	)
}

func filterParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		stringList("categories", "Only these categories: decision, pattern, warning, learning"),
		stringList("tags", "Only records carrying all of these tags"),
		mcp.WithString("file_path", mcp.Description("Only records associated with this file")),
		mcp.WithString("since", mcp.Description("Created at or after (RFC 3339 or YYYY-MM-DD)")),
		mcp.WithString("until", mcp.Description("Created at or before (RFC 3339 or YYYY-MM-DD)")),
		mcp.WithNumber("offset", mcp.Description("Results to skip (default 0)")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 10, max 100)")),
		mcp.WithString("detail_level",
			mcp.Description("summary, standard (default) or full"),
			mcp.Enum("summary", "standard", "full"),
		),
	}
}

var relationTypes = []string{"led_to", "supersedes", "depends_on", "conflicts_with", "related_to"}
