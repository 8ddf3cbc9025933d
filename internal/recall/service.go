// Package recall implements the capability logic behind every operation:
// storing, retrieving and ranking records, rules, outcomes, the relation
// graph, briefings, consultations and maintenance.
//
// Capabilities trust that covenant preconditions already hold; the
// dispatcher enforces them before calling in.
package recall

import (
	"context"
	"log/slog"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/embedding"
	"github.com/HendryAvila/warden/internal/ranking"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/HendryAvila/warden/internal/router"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes the capabilities.
type Config struct {
	Ranking         ranking.Config
	Router          router.Config
	ConsultationTTL time.Duration
	// ConflictOverlap is the token overlap (Jaccard) at which a failed
	// record or warning is reported as a conflict.
	ConflictOverlap float64
	// ConflictSimilarity is the cosine similarity at which a failed record
	// or warning is reported as a conflict.
	ConflictSimilarity float64
	// RuleSimilarity is the cosine similarity at which a rule matches an
	// action it shares no keywords with.
	RuleSimilarity float64
	// NoveltyNeighbours is k for the surprise estimate.
	NoveltyNeighbours int
	// PruneAfter is the default age for prune_memories.
	PruneAfter time.Duration
	Now        func() time.Time
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Ranking:            ranking.DefaultConfig(),
		Router:             router.DefaultConfig(),
		ConsultationTTL:    5 * time.Minute,
		ConflictOverlap:    0.3,
		ConflictSimilarity: 0.8,
		RuleSimilarity:     0.75,
		NoveltyNeighbours:  5,
		PruneAfter:         90 * 24 * time.Hour,
		Now:                time.Now,
	}
}

// Service runs capabilities against project contexts.
type Service struct {
	cfg    Config
	router *router.Router
	embed  *embedding.Provider
	signer *covenant.Signer
	logger *slog.Logger
	tracer trace.Tracer
}

// New returns a Service. embed may be nil, in which case semantic search
// is permanently unavailable.
func New(cfg Config, embed *embedding.Provider, signer *covenant.Signer, logger *slog.Logger) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ConsultationTTL <= 0 {
		cfg.ConsultationTTL = 5 * time.Minute
	}
	if cfg.NoveltyNeighbours <= 0 {
		cfg.NoveltyNeighbours = 5
	}
	if embed == nil {
		embed = embedding.NewStaticProvider(embedding.Unavailable{})
	}
	if signer == nil {
		signer = covenant.NewSigner(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		router: router.New(cfg.Router),
		embed:  embed,
		signer: signer,
		logger: logger,
		tracer: otel.Tracer("github.com/HendryAvila/warden/internal/recall"),
	}
}

// Signer returns the token signer shared with the covenant guard.
func (s *Service) Signer() *covenant.Signer { return s.signer }

// ConsultationTTL is the consultation window.
func (s *Service) ConsultationTTL() time.Duration { return s.cfg.ConsultationTTL }

// Router exposes the query router for classification-only callers.
func (s *Service) Router() *router.Router { return s.router }

func (s *Service) now() time.Time { return s.cfg.Now().UTC() }

// embedText embeds text, returning nil when the model is unavailable.
func (s *Service) embedText(ctx context.Context, text string) []float32 {
	vec, err := s.embed.Embed(ctx, text)
	if err != nil {
		s.logger.Debug("embedding unavailable", "error", err)
		return nil
	}
	return vec
}

// ─── Retrieval sources ───────────────────────────────────────────────────────

// sources adapts one project's indices to router.Sources.
type sources struct {
	svc *Service
	p   *registry.Project
}

func (s *Service) sources(p *registry.Project) *sources {
	return &sources{svc: s, p: p}
}

func (src *sources) Lexical(ctx context.Context, query string, k int) ([]int64, error) {
	hits, err := src.p.Lexical.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids, nil
}

func (src *sources) Vector(ctx context.Context, query string, k int) ([]int64, error) {
	vec, err := src.svc.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := src.p.Vectors.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids, nil
}

// Communities returns the members of the communities matching query,
// best community first, without repeats.
func (src *sources) Communities(ctx context.Context, query string, k int) ([]int64, error) {
	hits, err := src.p.Communities.Search(ctx, query, 3)
	if err != nil || len(hits) == 0 {
		return nil, err
	}
	comms, err := src.p.Store.ListCommunities(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64][]int64, len(comms))
	for _, c := range comms {
		byID[c.ID] = c.MemberIDs
	}
	seen := make(map[int64]bool)
	var ids []int64
	for _, h := range hits {
		for _, id := range byID[h.ID] {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) > k {
		ids = ids[:k]
	}
	return ids, nil
}

func (src *sources) Expand(ctx context.Context, seeds []int64, depth int) ([]router.Expansion, error) {
	var out []router.Expansion
	for _, seed := range seeds {
		nodes, err := src.p.Store.Traverse(ctx, seed, depth)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			out = append(out, router.Expansion{ID: n.ID, From: seed, Depth: n.Depth})
		}
	}
	return out, nil
}
