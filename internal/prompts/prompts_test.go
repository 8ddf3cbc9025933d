package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptReq(args map[string]string) mcp.GetPromptRequest {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	return req
}

func messageText(t *testing.T, r *mcp.GetPromptResult) string {
	t.Helper()
	if len(r.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(r.Messages))
	}
	tc, ok := r.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", r.Messages[0].Content)
	}
	return tc.Text
}

func TestWorkflowPrompt(t *testing.T) {
	p := NewWorkflowPrompt()
	if got := p.Definition().Name; got != "covenant-workflow" {
		t.Errorf("name = %q", got)
	}

	res, err := p.Handle(context.Background(), promptReq(map[string]string{"project_path": "/src/app", "task": "the login page"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := messageText(t, res)
	for _, want := range []string{"get_briefing", "context_check", "preflight_token", "/src/app", "the login page"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if _, err := p.Handle(context.Background(), promptReq(nil)); err == nil {
		t.Error("expected error without project_path")
	}
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	res, err := p.Handle(context.Background(), promptReq(map[string]string{"project_path": "/src/app"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := messageText(t, res); !strings.Contains(text, "`health`") {
		t.Errorf("status prompt should ask for health: %s", text)
	}
}
