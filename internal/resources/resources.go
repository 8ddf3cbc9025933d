// Package resources implements MCP resource handlers.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (warden://...) following MCP conventions.
package resources

import (
	"context"
	"fmt"
	"time"

	"github.com/HendryAvila/warden/internal/registry"
	"github.com/mark3labs/mcp-go/mcp"
)

// ContextsURI addresses the live project contexts.
const ContextsURI = "warden://contexts"

// Handler manages resource endpoints.
type Handler struct {
	reg *registry.Registry
	ttl time.Duration
}

// NewHandler creates a resource Handler. ttl is the consultation window
// used to derive each context's covenant stage.
func NewHandler(reg *registry.Registry, ttl time.Duration) *Handler {
	return &Handler{reg: reg, ttl: ttl}
}

// ContextsResource returns the MCP resource definition for live contexts.
func (h *Handler) ContextsResource() mcp.Resource {
	return mcp.NewResource(
		ContextsURI,
		"Project contexts",
		mcp.WithResourceDescription("Projects currently held in memory with their in-flight requests, last access and covenant stage"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleContexts returns the live contexts as JSON.
func (h *Handler) HandleContexts(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	infos := h.reg.Contexts(h.ttl)
	if infos == nil {
		infos = []registry.Info{}
	}
	out, err := jsonResource(req.Params.URI, map[string]any{"count": len(infos), "contexts": infos})
	if err != nil {
		return nil, fmt.Errorf("marshaling contexts: %w", err)
	}
	return out, nil
}
