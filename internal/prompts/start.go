// Package prompts implements MCP prompt handlers.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// WorkflowPrompt handles the covenant-workflow MCP prompt.
// It walks the AI through the session protocol for one project.
type WorkflowPrompt struct{}

// NewWorkflowPrompt creates a WorkflowPrompt.
func NewWorkflowPrompt() *WorkflowPrompt {
	return &WorkflowPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *WorkflowPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("covenant-workflow",
		mcp.WithPromptDescription(
			"Work on a project with durable memory: start a session, consult before every change, "+
				"and record what was decided and how it turned out.",
		),
		mcp.WithArgument("project_path",
			mcp.ArgumentDescription("Absolute path of the project root"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("What you are about to work on"),
		),
	)
}

// Handle processes the covenant-workflow prompt request.
func (p *WorkflowPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	root := req.Params.Arguments["project_path"]
	if root == "" {
		return nil, fmt.Errorf("project_path is required")
	}
	task := req.Params.Arguments["task"]
	if task == "" {
		task = "the task I describe next"
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Covenant workflow for %s", root),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to work on %s in the project at %s.\n\n"+
						"Follow this protocol, always passing project_path=%q:\n"+
						"1. Run `get_briefing` first. Read the recent decisions, warnings, failed approaches and rules before touching anything.\n"+
						"2. Before each change, run `context_check` with a one-line description of it. Respect every matching rule and warning it returns; "+
						"if a similar approach failed before, tell me before repeating it.\n"+
						"3. Pass the returned `preflight_token` to `remember`, `link_memories`, `record_outcome` and the other write tools. "+
						"When a write is refused with COUNSEL_REQUIRED, consult again rather than retrying blindly.\n"+
						"4. After significant work, `remember` the decision, pattern, warning or learning, and `link_memories` it to what led to it.\n"+
						"5. When you learn whether an earlier approach worked, `record_outcome` on that memory.",
					task, root, root,
				)),
			},
		},
	}, nil
}
