package recall

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/warden/internal/lexical"
	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/ranking"
	"github.com/HendryAvila/warden/internal/registry"
)

// Note is a record to be stored.
type Note struct {
	Category   memory.Category
	Content    string
	Rationale  string
	Tags       []string
	FilePath   string
	Importance float64
}

// ConflictWarning reports that a new record resembles a past failure or
// an existing warning. It never blocks the write.
type ConflictWarning struct {
	ID         int64           `json:"id"`
	Category   memory.Category `json:"category"`
	Outcome    memory.Outcome  `json:"outcome,omitempty"`
	Content    string          `json:"content"`
	Similarity float64         `json:"similarity"`
	Reason     string          `json:"reason"`
}

// Stored is the outcome of Remember.
type Stored struct {
	ID        int64             `json:"id"`
	Duplicate bool              `json:"duplicate"`
	Surprise  float64           `json:"surprise"`
	Conflicts []ConflictWarning `json:"conflicts"`
	Degraded  bool              `json:"degraded"`
}

// Remember stores n. A record matching an existing live one on category,
// normalized content and file is not stored again; its id is returned with
// Duplicate set. Indices are updated only after the durable write commits.
func (s *Service) Remember(ctx context.Context, p *registry.Project, n Note) (*Stored, error) {
	ctx, span := s.tracer.Start(ctx, "recall.Remember")
	defer span.End()

	abs, rel := resolveFile(p.Root, n.FilePath)
	if dup, err := p.Store.FindDuplicate(ctx, n.Category, n.Content, abs); err == nil {
		return &Stored{ID: dup.ID, Duplicate: true, Surprise: dup.Surprise, Conflicts: []ConflictWarning{}}, nil
	} else if !errors.Is(err, memory.ErrNotFound) {
		return nil, err
	}

	rec := &memory.Record{
		Category:    n.Category,
		Content:     n.Content,
		Rationale:   n.Rationale,
		Tags:        n.Tags,
		FilePath:    abs,
		FilePathRel: rel,
		Importance:  n.Importance,
	}
	out := &Stored{}

	vec := s.embedText(ctx, rec.IndexText())
	var neighbours []neighbour
	if vec != nil {
		var err error
		neighbours, err = s.neighbours(ctx, p, vec)
		if err != nil {
			out.Degraded = true
		} else {
			sims := make([]float64, len(neighbours))
			for i, nb := range neighbours {
				sims[i] = nb.similarity
			}
			rec.Surprise = ranking.Surprise(sims, s.cfg.NoveltyNeighbours)
		}
		rec.Embedding = vec
	} else {
		out.Degraded = true
	}

	conflicts, err := s.conflicts(ctx, p, rec, neighbours)
	if err != nil {
		return nil, err
	}
	out.Conflicts = conflicts

	id, err := p.Store.InsertRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	out.ID = id
	out.Surprise = rec.Surprise

	p.Lexical.Add(id, rec.IndexText())
	if vec != nil {
		if err := p.Vectors.Upsert(ctx, id, vec); err != nil {
			s.logger.Warn("vector upsert failed; record is lexical-only until rebuild_index", "project", p.Root, "id", id, "error", err)
			out.Degraded = true
		}
	}
	return out, nil
}

type neighbour struct {
	id         int64
	similarity float64
}

func (s *Service) neighbours(ctx context.Context, p *registry.Project, vec []float32) ([]neighbour, error) {
	hits, err := p.Vectors.Search(ctx, vec, s.cfg.NoveltyNeighbours)
	if err != nil {
		return nil, err
	}
	out := make([]neighbour, len(hits))
	for i, h := range hits {
		out[i] = neighbour{id: h.ID, similarity: h.Score}
	}
	return out, nil
}

// conflicts finds failed records and warnings that resemble rec, by token
// overlap over lexical hits or by embedding similarity over neighbours.
func (s *Service) conflicts(ctx context.Context, p *registry.Project, rec *memory.Record, nbs []neighbour) ([]ConflictWarning, error) {
	hits, err := p.Lexical.Search(ctx, rec.IndexText(), 10)
	if err != nil {
		return nil, err
	}
	sims := make(map[int64]float64, len(nbs))
	ids := make([]int64, 0, len(hits)+len(nbs))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	for _, nb := range nbs {
		sims[nb.id] = nb.similarity
		ids = append(ids, nb.id)
	}
	if len(ids) == 0 {
		return []ConflictWarning{}, nil
	}
	recs, err := p.Store.GetRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	tokens := tokenSet(rec.IndexText())
	out := []ConflictWarning{}
	seen := make(map[int64]bool)
	for _, id := range ids {
		other := recs[id]
		if other == nil || other.Archived || seen[id] {
			continue
		}
		seen[id] = true
		failed := other.Outcome == memory.OutcomeFailed
		if !failed && other.Category != memory.CategoryWarning {
			continue
		}
		overlap := jaccard(tokens, tokenSet(other.IndexText()))
		sim, hasSim := sims[id]
		if overlap < s.cfg.ConflictOverlap && (!hasSim || sim < s.cfg.ConflictSimilarity) {
			continue
		}
		w := ConflictWarning{
			ID:         id,
			Category:   other.Category,
			Outcome:    other.Outcome,
			Content:    memory.Truncate(other.Content, memory.StandardSnippet),
			Similarity: overlap,
			Reason:     "resembles an existing warning",
		}
		if hasSim && sim > w.Similarity {
			w.Similarity = sim
		}
		if failed {
			w.Reason = "resembles an approach that failed"
		}
		out = append(out, w)
	}
	return out, nil
}

// resolveFile returns the absolute and project-relative forms of path.
// Paths outside the project keep an empty relative form.
func resolveFile(root, path string) (abs, rel string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ""
	}
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(root, path)
	}
	r, err := filepath.Rel(root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return abs, ""
	}
	return abs, filepath.ToSlash(r)
}

func tokenSet(text string) map[string]bool {
	toks := lexical.Tokenize(text)
	m := make(map[string]bool, len(toks))
	for _, t := range toks {
		m[t] = true
	}
	return m
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
