package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/HendryAvila/warden/internal/ranking"
)

// Strategy names reported in results.
const (
	StrategyCommunity = "community"
	StrategyHybrid    = "hybrid"
	StrategyGraph     = "hybrid+graph"
	StrategyLexical   = "lexical"
)

// Expansion is a record reached by graph expansion from a seed.
type Expansion struct {
	ID    int64
	From  int64
	Depth int
}

// Sources are the per-project retrieval primitives. Lists are ordered
// best first.
type Sources interface {
	Lexical(ctx context.Context, query string, k int) ([]int64, error)
	Vector(ctx context.Context, query string, k int) ([]int64, error)
	Communities(ctx context.Context, query string, k int) ([]int64, error)
	Expand(ctx context.Context, seeds []int64, depth int) ([]Expansion, error)
}

// Config tunes routing.
type Config struct {
	Threshold    float64
	GraphDepth   int
	K            float64
	VectorWeight float64
	// Seeds is how many top hybrid hits start graph expansion.
	Seeds int
}

// DefaultConfig returns the standard routing configuration.
func DefaultConfig() Config {
	return Config{Threshold: 0.6, GraphDepth: 2, K: 60, VectorWeight: 0.5, Seeds: 5}
}

// Result is the routed candidate set, fused but not yet scored.
type Result struct {
	Classification Classification  `json:"classification"`
	Strategy       string          `json:"strategy"`
	Candidates     []ranking.Fused `json:"-"`
	Degraded       bool            `json:"degraded"`
	// Reason explains a degradation or strategy fallback.
	Reason string `json:"reason,omitempty"`
}

// Router routes queries to strategies.
type Router struct {
	cfg Config
}

// New returns a Router.
func New(cfg Config) *Router {
	if cfg.Seeds <= 0 {
		cfg.Seeds = 5
	}
	if cfg.K <= 0 {
		cfg.K = 60
	}
	return &Router{cfg: cfg}
}

// Classify classifies query with the configured threshold.
func (r *Router) Classify(query string) Classification {
	return Classify(query, r.cfg.Threshold)
}

// Route classifies query and gathers up to k candidates per source with
// the matching strategy. Any strategy failure falls back to lexical-only
// with Degraded set; only a lexical failure is returned as an error.
// Cancellation is checked between stages.
func (r *Router) Route(ctx context.Context, src Sources, query string, k int) (*Result, error) {
	class := r.Classify(query)
	return r.RouteAs(ctx, src, query, class, k)
}

// RouteAs routes with a precomputed classification.
func (r *Router) RouteAs(ctx context.Context, src Sources, query string, class Classification, k int) (*Result, error) {
	if k <= 0 {
		k = 10
	}
	res := &Result{Classification: class}

	switch class.Complexity {
	case Simple:
		ids, err := src.Communities(ctx, query, k)
		if err != nil {
			return r.lexicalOnly(ctx, src, query, k, res, fmt.Sprintf("community retrieval failed: %v", err))
		}
		if len(ids) > 0 {
			res.Strategy = StrategyCommunity
			res.Candidates = ranking.Fuse(nil, ids, r.cfg.K, 0)
			return res, nil
		}
		res.Reason = "no matching community; used hybrid"
		fallthrough
	case Medium:
		return r.hybrid(ctx, src, query, k, res)
	case Complex:
		if _, err := r.hybrid(ctx, src, query, k, res); err != nil {
			return nil, err
		}
		if res.Degraded {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.expand(ctx, src, res); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return r.lexicalOnly(ctx, src, query, k, &Result{Classification: class}, fmt.Sprintf("graph expansion failed: %v", err))
		}
		res.Strategy = StrategyGraph
		return res, nil
	default:
		return r.hybrid(ctx, src, query, k, res)
	}
}

func (r *Router) hybrid(ctx context.Context, src Sources, query string, k int, res *Result) (*Result, error) {
	lex, err := src.Lexical(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec, err := src.Vector(ctx, query, k)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		res.Strategy = StrategyLexical
		res.Degraded = true
		res.Reason = fmt.Sprintf("vector search unavailable: %v", err)
		res.Candidates = ranking.Fuse(nil, lex, r.cfg.K, r.cfg.VectorWeight)
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Strategy = StrategyHybrid
	res.Candidates = ranking.Fuse(vec, lex, r.cfg.K, r.cfg.VectorWeight)
	return res, nil
}

func (r *Router) lexicalOnly(ctx context.Context, src Sources, query string, k int, res *Result, reason string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lex, err := src.Lexical(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	res.Strategy = StrategyLexical
	res.Degraded = true
	res.Reason = reason
	res.Candidates = ranking.Fuse(nil, lex, r.cfg.K, r.cfg.VectorWeight)
	return res, nil
}

// expand follows relations from the top seeds and merges the reached
// records. A reached record scores its seed's score divided by
// (depth + 1); records already present keep the higher score.
func (r *Router) expand(ctx context.Context, src Sources, res *Result) error {
	if len(res.Candidates) == 0 || r.cfg.GraphDepth <= 0 {
		return nil
	}
	n := r.cfg.Seeds
	if n > len(res.Candidates) {
		n = len(res.Candidates)
	}
	seeds := make([]int64, n)
	seedScore := make(map[int64]float64, n)
	for i := 0; i < n; i++ {
		seeds[i] = res.Candidates[i].ID
		seedScore[seeds[i]] = res.Candidates[i].Score
	}

	reached, err := src.Expand(ctx, seeds, r.cfg.GraphDepth)
	if err != nil {
		return err
	}

	index := make(map[int64]int, len(res.Candidates))
	for i, c := range res.Candidates {
		index[c.ID] = i
	}
	for _, e := range reached {
		score := seedScore[e.From] / float64(e.Depth+1)
		if i, ok := index[e.ID]; ok {
			if score > res.Candidates[i].Score {
				res.Candidates[i].Score = score
			}
			continue
		}
		index[e.ID] = len(res.Candidates)
		res.Candidates = append(res.Candidates, ranking.Fused{ID: e.ID, Score: score})
	}
	return nil
}
