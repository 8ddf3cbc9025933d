// Package server wires all components and creates the MCP server.
//
// This is the composition root: it builds concrete implementations from
// the configuration and injects them into the tools, prompts, resources
// and HTTP adapter that depend on them. No business logic lives here.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HendryAvila/warden/internal/config"
	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/HendryAvila/warden/internal/embedding"
	"github.com/HendryAvila/warden/internal/httpapi"
	"github.com/HendryAvila/warden/internal/memtools"
	"github.com/HendryAvila/warden/internal/prompts"
	"github.com/HendryAvila/warden/internal/recall"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/HendryAvila/warden/internal/resources"
	"github.com/HendryAvila/warden/internal/telemetry"
	"github.com/HendryAvila/warden/internal/vectorindex"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App is the assembled server.
type App struct {
	MCP        *server.MCPServer
	HTTP       *httpapi.Server
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher

	cfg     config.Config
	idle    *recall.IdleReviewer
	embed   *embedding.Provider
	backend vectorindex.Backend
	logger  *slog.Logger
}

// New builds every component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// --- Shared dependencies ---

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	embed := embedding.NewProvider(cfg.Embedding(), logger)

	reg := registry.New(cfg.Registry(), registry.NewOpener(cfg.Open(), backend, logger), logger)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(promReg, reg.Len)

	// nil signer: tokens are signed with a random per-process key.
	svc := recall.New(cfg.Recall(), embed, nil, logger)
	d := dispatch.New(cfg.Dispatch(), reg, svc, metrics, logger)

	// --- MCP server ---

	s := server.NewMCPServer(
		"warden",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	for _, tool := range memtools.All(d) {
		s.AddTool(tool.Definition(), tool.Handle)
	}

	workflow := prompts.NewWorkflowPrompt()
	s.AddPrompt(workflow.Definition(), workflow.Handle)

	status := prompts.NewStatusPrompt()
	s.AddPrompt(status.Definition(), status.Handle)

	res := resources.NewHandler(reg, cfg.ConsultationTTL)
	s.AddResource(res.ContextsResource(), res.HandleContexts)

	app := &App{
		MCP:        s,
		Registry:   reg,
		Dispatcher: d,
		cfg:        cfg,
		idle:       recall.NewIdleReviewer(reg, svc, cfg.Idle(), logger),
		embed:      embed,
		backend:    backend,
		logger:     logger,
	}
	if cfg.HTTPAddr != "" {
		app.HTTP = httpapi.New(d, promReg, reg.Len, logger)
	}
	return app, nil
}

// openBackend selects the vector backend. An unreachable PostgreSQL is
// not fatal: the server starts lexical-only.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (vectorindex.Backend, error) {
	switch cfg.VectorBackend {
	case "chromem":
		return vectorindex.ChromemBackend{}, nil
	case "pgvector":
		b, err := vectorindex.NewPGVector(ctx, cfg.PGVectorDSN, cfg.EmbeddingDimensions)
		if err != nil {
			logger.Warn("pgvector unavailable; semantic search disabled", "error", err)
			return vectorindex.NoneBackend{}, nil
		}
		return b, nil
	case "none":
		return vectorindex.NoneBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// Start launches the background workers: the eviction sweep and the idle
// reviewer.
func (a *App) Start(ctx context.Context) error {
	if err := a.Registry.Start(ctx); err != nil {
		return fmt.Errorf("starting registry: %w", err)
	}
	if err := a.idle.Start(ctx); err != nil {
		a.Registry.Stop()
		return fmt.Errorf("starting idle review: %w", err)
	}
	a.logger.Info("warden started",
		"version", Version,
		"vector_backend", a.backend.Name(),
		"embedder", a.cfg.Embedder,
		"max_contexts", a.cfg.MaxContexts,
	)
	return nil
}

// Close stops the workers and releases every context and shared
// resource.
func (a *App) Close() error {
	a.idle.Stop()
	err := a.Registry.Close()
	err = errors.Join(err, a.backend.Close())
	a.embed.Close()
	return err
}

// serverInstructions tells the AI how to use warden.
func serverInstructions() string {
	return `You have access to warden, a durable memory for this codebase that persists across sessions.

## PROTOCOL (enforced)
1. get_briefing(project_path) FIRST in every session. Until then every other
   tool except health is refused with COMMUNION_REQUIRED.
2. context_check(project_path, action) BEFORE every change. It returns related
   memories, matching rules, warnings about failed approaches and a
   preflight_token valid for a few minutes.
3. Write tools (remember, record_outcome, link_memories, add_rule, archive, ...)
   need a live consultation. Pass the preflight_token; when it has expired the
   call is refused with COUNSEL_REQUIRED and you must consult again.

## WHAT TO REMEMBER
- decision: a choice made and why (fades over time)
- pattern: a convention the code follows (permanent)
- warning: something that bites (permanent)
- learning: something discovered while working (fades over time)
Link related memories (led_to, supersedes, depends_on, conflicts_with) and
record_outcome when you learn whether an approach worked.

## RETRIEVAL
recall answers questions; it picks overview, hybrid or graph retrieval from
the question. search_memories is exact keyword search. When a response is
marked degraded, semantic search was unavailable and results are keyword-only.`
}
