package memtools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/HendryAvila/warden/internal/embedding"
	"github.com/HendryAvila/warden/internal/recall"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/HendryAvila/warden/internal/vectorindex"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// newTestDispatcher wires a dispatcher over real per-project storage.
func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	reg := registry.New(registry.DefaultConfig(),
		registry.NewOpener(registry.OpenOptions{DataDirName: ".warden"}, vectorindex.ChromemBackend{}, nil), nil)
	t.Cleanup(func() { _ = reg.Close() })
	svc := recall.New(recall.DefaultConfig(),
		embedding.NewStaticProvider(embedding.NewHash(64)),
		covenant.NewSigner([]byte("0123456789abcdef0123456789abcdef")),
		nil)
	return dispatch.New(dispatch.Config{}, reg, svc, nil, nil)
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// decode parses a tool result back into a dispatcher response.
func decode(t *testing.T, r *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, resultText(r))
	}
	return out
}

func errorCode(t *testing.T, r *mcp.CallToolResult) (code, field string) {
	t.Helper()
	if !r.IsError {
		t.Fatalf("expected error result, got: %s", resultText(r))
	}
	e, _ := decode(t, r)["error"].(map[string]interface{})
	code, _ = e["code"].(string)
	field, _ = e["field"].(string)
	return code, field
}

func call(t *testing.T, tool Tool, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := tool.Handle(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", tool.Definition().Name, err)
	}
	return res
}

func mustOK(t *testing.T, tool Tool, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	res := call(t, tool, args)
	if res.IsError {
		t.Fatalf("%s failed: %s", tool.Definition().Name, resultText(res))
	}
	data, _ := decode(t, res)["data"].(map[string]interface{})
	return data
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestAll_OneToolPerOperation(t *testing.T) {
	tools := All(newTestDispatcher(t))
	ops := dispatch.Ops()
	if len(tools) != len(ops) {
		t.Fatalf("tools = %d, operations = %d", len(tools), len(ops))
	}

	seen := make(map[string]bool)
	for _, tool := range tools {
		def := tool.Definition()
		if seen[def.Name] {
			t.Errorf("duplicate tool %q", def.Name)
		}
		seen[def.Name] = true
		if _, ok := dispatch.New(def.Name); !ok {
			t.Errorf("tool %q has no operation", def.Name)
		}
		if _, ok := def.InputSchema.Properties["project_path"]; !ok {
			t.Errorf("%s: missing 'project_path' parameter", def.Name)
		}
		required := false
		for _, r := range def.InputSchema.Required {
			if r == "project_path" {
				required = true
			}
		}
		if !required {
			t.Errorf("%s: project_path should be required", def.Name)
		}
	}
}

func TestGatedTools_AcceptPreflightToken(t *testing.T) {
	policy := dispatch.Policy()
	for _, tool := range All(newTestDispatcher(t)) {
		def := tool.Definition()
		_, has := def.InputSchema.Properties["preflight_token"]
		gated := policy.ClassOf(def.Name) == covenant.CounselGated
		if has != gated {
			t.Errorf("%s: preflight_token present = %v, counsel-gated = %v", def.Name, has, gated)
		}
	}
}

// ─── Covenant flow ───────────────────────────────────────────────────────────

func TestRememberTool_RequiresBriefingThenConsultation(t *testing.T) {
	d := newTestDispatcher(t)
	root := t.TempDir()
	remember := NewRememberTool(d)
	args := map[string]interface{}{"project_path": root, "category": "decision", "content": "Use JWT for auth"}

	if code, _ := errorCode(t, call(t, remember, args)); code != dispatch.CodeCommunionRequired {
		t.Fatalf("code = %q, want %q", code, dispatch.CodeCommunionRequired)
	}

	mustOK(t, NewBriefingTool(d), map[string]interface{}{"project_path": root})
	if code, _ := errorCode(t, call(t, remember, args)); code != dispatch.CodeCounselRequired {
		t.Fatalf("code = %q, want %q", code, dispatch.CodeCounselRequired)
	}

	check := mustOK(t, NewContextCheckTool(d), map[string]interface{}{"project_path": root, "action": "record the auth decision"})
	token, _ := check["preflight_token"].(string)
	if token == "" {
		t.Fatal("context_check returned no preflight_token")
	}
	args["preflight_token"] = token
	stored := mustOK(t, remember, args)
	if stored["id"] == nil {
		t.Errorf("remember returned no id: %v", stored)
	}
}

// ─── Argument coercion ───────────────────────────────────────────────────────

func TestRememberTool_CoercesLooseArguments(t *testing.T) {
	d := newTestDispatcher(t)
	root := t.TempDir()
	mustOK(t, NewBriefingTool(d), map[string]interface{}{"project_path": root})
	mustOK(t, NewContextCheckTool(d), map[string]interface{}{"project_path": root, "action": "store notes"})

	stored := mustOK(t, NewRememberTool(d), map[string]interface{}{
		"project_path": root,
		"category":     "pattern",
		"content":      "Wrap errors with context",
		"tags":         "Errors, go",
		"importance":   "0.8",
	})
	id := stored["id"]

	got := mustOK(t, NewGetMemoryTool(d), map[string]interface{}{"project_path": root, "id": "1"})
	rec, _ := got["record"].(map[string]interface{})
	if rec == nil || rec["id"] != id {
		t.Fatalf("get_memory = %v, want id %v", got, id)
	}
	tags, _ := rec["tags"].([]interface{})
	if len(tags) != 2 || tags[0] != "errors" || tags[1] != "go" {
		t.Errorf("tags = %v, want [errors go]", tags)
	}
	if rec["importance"] != 0.8 {
		t.Errorf("importance = %v, want 0.8", rec["importance"])
	}
}

func TestGetMemoryTool_RejectsNonNumericID(t *testing.T) {
	d := newTestDispatcher(t)
	res := call(t, NewGetMemoryTool(d), map[string]interface{}{"project_path": t.TempDir(), "id": "seven"})
	code, field := errorCode(t, res)
	if code != dispatch.CodeValidation || field != "id" {
		t.Errorf("got %s on %q, want %s on id", code, field, dispatch.CodeValidation)
	}
}

func TestArchiveTool_AcceptsCommaSeparatedIDs(t *testing.T) {
	d := newTestDispatcher(t)
	root := t.TempDir()
	mustOK(t, NewBriefingTool(d), map[string]interface{}{"project_path": root})
	mustOK(t, NewContextCheckTool(d), map[string]interface{}{"project_path": root, "action": "archive old notes"})
	remember := NewRememberTool(d)
	mustOK(t, remember, map[string]interface{}{"project_path": root, "category": "learning", "content": "first"})
	mustOK(t, remember, map[string]interface{}{"project_path": root, "category": "learning", "content": "second"})

	out := mustOK(t, NewArchiveTool(d), map[string]interface{}{"project_path": root, "ids": "1, 2"})
	archived, _ := out["archived"].([]interface{})
	if len(archived) != 2 {
		t.Errorf("archived = %v, want 2 ids", archived)
	}

	res := call(t, NewRecallTool(d), map[string]interface{}{"project_path": root, "query": "first second"})
	if res.IsError {
		t.Fatalf("recall failed: %s", resultText(res))
	}
	if strings.Contains(resultText(res), `"content": "first"`) {
		t.Error("archived record returned by recall")
	}
}

func TestArgs_Coercion(t *testing.T) {
	a := &args{m: map[string]interface{}{
		"n":     float64(3),
		"s":     "42",
		"list":  []interface{}{"a", "b"},
		"ids":   []interface{}{float64(1), "2"},
		"flag":  "true",
		"empty": nil,
	}}
	if got := a.int64("n"); got != 3 {
		t.Errorf("int64(n) = %d", got)
	}
	if got := a.int("s"); got != 42 {
		t.Errorf("int(s) = %d", got)
	}
	if got := a.strings("list"); len(got) != 2 || got[1] != "b" {
		t.Errorf("strings(list) = %v", got)
	}
	if got := a.int64s("ids"); len(got) != 2 || got[1] != 2 {
		t.Errorf("int64s(ids) = %v", got)
	}
	if got := a.boolPtr("flag"); got == nil || !*got {
		t.Errorf("boolPtr(flag) = %v", got)
	}
	if got := a.boolPtr("empty"); got != nil {
		t.Errorf("boolPtr(empty) = %v, want nil", *got)
	}
	if got := a.strPtr("missing"); got != nil {
		t.Errorf("strPtr(missing) = %v, want nil", *got)
	}
	if a.err != nil {
		t.Fatalf("unexpected coercion error: %v", a.err)
	}

	bad := &args{m: map[string]interface{}{"id": "x", "other": "y"}}
	bad.int64("id")
	bad.int64("other")
	if bad.err == nil || bad.err.Field != "id" {
		t.Errorf("err = %v, want first failure on id", bad.err)
	}
}
