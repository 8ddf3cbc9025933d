package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the memory-status MCP prompt.
// It instructs the AI to report the health of a project's memory.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("memory-status",
		mcp.WithPromptDescription(
			"Check the health of a project's memory: storage, indices, "+
				"semantic search availability and session state.",
		),
		mcp.WithArgument("project_path",
			mcp.ArgumentDescription("Absolute path of the project root"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the memory-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	root := req.Params.Arguments["project_path"]
	if root == "" {
		return nil, fmt.Errorf("project_path is required")
	}
	return &mcp.GetPromptResult{
		Description: "Memory status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please run `health` with project_path=%q.\n\n"+
						"Then:\n"+
						"1. Summarize storage, record counts and whether the keyword index matches storage\n"+
						"2. Say whether semantic search is available; if it is not, suggest `rebuild_index` once it is back\n"+
						"3. If communities are stale, suggest `rebuild_communities`\n"+
						"4. Report the covenant stage and what has to happen before the next write",
					root,
				)),
			},
		},
	}, nil
}
