package recall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/ranking"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/HendryAvila/warden/internal/router"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultLimit is the page size when a query sets none.
const DefaultLimit = 10

// Query describes one retrieval.
type Query struct {
	Text       string
	Categories []memory.Category
	Tags       []string
	FilePath   string
	Since      *time.Time
	Until      *time.Time
	Offset     int
	Limit      int
	Detail     string
	// Complexity overrides classification when set.
	Complexity router.Complexity
}

func (q *Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// matches applies the record filters to a candidate.
func (q *Query) matches(rec *memory.Record) bool {
	if len(q.Categories) > 0 {
		ok := false
		for _, c := range q.Categories {
			if rec.Category == c {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, want := range q.Tags {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		found := false
		for _, t := range rec.Tags {
			if t == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.FilePath != "" && rec.FilePath != q.FilePath && rec.FilePathRel != q.FilePath {
		return false
	}
	if q.Since != nil && rec.CreatedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && rec.CreatedAt.After(*q.Until) {
		return false
	}
	return true
}

// Hit is one ranked record.
type Hit struct {
	Record      memory.Record `json:"record"`
	Score       float64       `json:"score"`
	Fused       float64       `json:"fused,omitempty"`
	Decay       float64       `json:"decay,omitempty"`
	Boost       float64       `json:"boost,omitempty"`
	Novelty     float64       `json:"novelty,omitempty"`
	VectorRank  int           `json:"vector_rank,omitempty"`
	LexicalRank int           `json:"lexical_rank,omitempty"`
	Age         string        `json:"age"`
}

// Results is one page of retrieval results.
type Results struct {
	Query          string                 `json:"query"`
	Classification *router.Classification `json:"classification,omitempty"`
	Strategy       string                 `json:"strategy"`
	Degraded       bool                   `json:"degraded"`
	Reason         string                 `json:"reason,omitempty"`
	Total          int                    `json:"total"`
	Offset         int                    `json:"offset"`
	Results        []Hit                  `json:"results"`
	Hint           string                 `json:"hint,omitempty"`
}

// Recall runs routed hybrid retrieval and ranking for q. Vector failures
// degrade to lexical-only and are reported, never returned.
func (s *Service) Recall(ctx context.Context, p *registry.Project, q Query) (*Results, error) {
	ctx, span := s.tracer.Start(ctx, "recall.Recall")
	defer span.End()

	limit := q.limit()
	k := (q.Offset + limit) * 3
	if k < 20 {
		k = 20
	}

	class := s.router.Classify(q.Text)
	if q.Complexity != "" {
		class = router.Classification{Complexity: q.Complexity, Confidence: 1}
	}
	rctx, rspan := s.tracer.Start(ctx, "recall.route")
	routed, err := s.router.RouteAs(rctx, s.sources(p), q.Text, class, k)
	if routed != nil {
		rspan.SetAttributes(
			attribute.String("strategy", routed.Strategy),
			attribute.Bool("degraded", routed.Degraded),
			attribute.Int("candidates", len(routed.Candidates)),
		)
	}
	rspan.End()
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	if routed.Degraded {
		s.logger.Warn("retrieval degraded to lexical-only", "project", p.Root, "reason", routed.Reason)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]int64, len(routed.Candidates))
	for i, c := range routed.Candidates {
		ids[i] = c.ID
	}
	recs, err := p.Store.GetRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	cands := make([]ranking.Candidate, 0, len(routed.Candidates))
	for _, f := range routed.Candidates {
		rec := recs[f.ID]
		if rec == nil || rec.Archived || !q.matches(rec) {
			continue
		}
		cands = append(cands, ranking.Candidate{
			Fused:     f,
			Category:  rec.Category,
			Outcome:   rec.Outcome,
			Surprise:  rec.Surprise,
			FilePath:  rec.FilePath,
			CreatedAt: rec.CreatedAt,
		})
	}

	_, kspan := s.tracer.Start(ctx, "recall.rank")
	now := s.now()
	ranked := s.cfg.Ranking.Rank(cands, now, 0)
	kspan.End()

	res := &Results{
		Query:          q.Text,
		Classification: &routed.Classification,
		Strategy:       routed.Strategy,
		Degraded:       routed.Degraded,
		Reason:         routed.Reason,
		Total:          len(ranked),
		Offset:         q.Offset,
		Results:        []Hit{},
	}
	page := paginate(ranked, q.Offset, limit)
	shown := make([]int64, 0, len(page))
	for _, r := range page {
		rec := recs[r.ID]
		res.Results = append(res.Results, Hit{
			Record:      memory.Shape(*rec, q.Detail),
			Score:       r.Final,
			Fused:       r.Score,
			Decay:       r.Decay,
			Boost:       r.Boost,
			Novelty:     r.Novelty,
			VectorRank:  r.VectorRank,
			LexicalRank: r.LexicalRank,
			Age:         memory.Age(rec.CreatedAt, now),
		})
		shown = append(shown, r.ID)
	}
	res.Hint = memory.NavigationHint(q.Offset+len(page), res.Total, "Use offset to see more.")

	if err := p.Store.IncrementRecall(ctx, shown); err != nil {
		s.logger.Warn("increment recall count", "project", p.Root, "error", err)
	}
	return res, nil
}

// Search runs lexical-only retrieval ordered by BM25 score.
func (s *Service) Search(ctx context.Context, p *registry.Project, q Query) (*Results, error) {
	ctx, span := s.tracer.Start(ctx, "recall.Search")
	defer span.End()

	hits, err := p.Lexical.Search(ctx, q.Text, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	recs, err := p.Store.GetRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var matched []Hit
	for _, h := range hits {
		rec := recs[h.ID]
		if rec == nil || rec.Archived || !q.matches(rec) {
			continue
		}
		matched = append(matched, Hit{Record: *rec, Score: h.Score, Age: memory.Age(rec.CreatedAt, now)})
	}

	limit := q.limit()
	res := &Results{
		Query:    q.Text,
		Strategy: router.StrategyLexical,
		Total:    len(matched),
		Offset:   q.Offset,
		Results:  []Hit{},
	}
	for _, h := range paginate(matched, q.Offset, limit) {
		h.Record = memory.Shape(h.Record, q.Detail)
		res.Results = append(res.Results, h)
	}
	res.Hint = memory.NavigationHint(q.Offset+len(res.Results), res.Total, "Use offset to see more.")
	return res, nil
}

func paginate[T any](s []T, offset, limit int) []T {
	if offset >= len(s) {
		return nil
	}
	s = s[offset:]
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return s
}

// Detail is a single record with its graph neighbourhood.
type Detail struct {
	Record    *memory.Record         `json:"record"`
	Relations []memory.Relation      `json:"relations"`
	Versions  []memory.RecordVersion `json:"versions,omitempty"`
}

// Get fetches a record by id, archived included. An unknown id yields a
// nil record, not an error.
func (s *Service) Get(ctx context.Context, p *registry.Project, id int64, detail string) (*Detail, error) {
	rec, err := p.Store.GetRecord(ctx, id)
	if errors.Is(err, memory.ErrNotFound) {
		return &Detail{Relations: []memory.Relation{}}, nil
	}
	if err != nil {
		return nil, err
	}
	shaped := memory.Shape(*rec, detail)
	out := &Detail{Record: &shaped}
	if out.Relations, err = p.Store.Relations(ctx, id); err != nil {
		return nil, err
	}
	if out.Relations == nil {
		out.Relations = []memory.Relation{}
	}
	if memory.ParseDetailLevel(detail) == memory.DetailFull {
		if out.Versions, err = p.Store.Versions(ctx, id); err != nil {
			return nil, err
		}
	}
	return out, nil
}
