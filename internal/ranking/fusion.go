// Package ranking fuses lexical and vector result lists and scores the
// fused candidates.
//
// Pipeline: reciprocal rank fusion, then temporal decay, outcome and
// category boosts, novelty adjustment, deterministic ordering and finally
// a per-file diversity cap.
package ranking

import "sort"

// Fused is one document after rank fusion. Ranks are 1-based; 0 means the
// document was absent from that list.
type Fused struct {
	ID          int64   `json:"id"`
	Score       float64 `json:"score"`
	VectorRank  int     `json:"vector_rank,omitempty"`
	LexicalRank int     `json:"lexical_rank,omitempty"`
}

// Fuse merges two ranked id lists with weighted reciprocal rank fusion:
//
//	score = 2w/(k + rank_vector) + 2(1-w)/(k + rank_lexical)
//
// A document absent from a list contributes nothing for that list. With
// w = 0.5 this is plain RRF. Duplicate ids within a list keep their best
// rank. The result is ordered by score descending, then id ascending.
func Fuse(vectorIDs, lexicalIDs []int64, k, w float64) []Fused {
	if k <= 0 {
		k = 60
	}
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}

	byID := make(map[int64]*Fused)
	get := func(id int64) *Fused {
		f, ok := byID[id]
		if !ok {
			f = &Fused{ID: id}
			byID[id] = f
		}
		return f
	}
	for i, id := range vectorIDs {
		f := get(id)
		if f.VectorRank == 0 {
			f.VectorRank = i + 1
			f.Score += 2 * w / (k + float64(i+1))
		}
	}
	for i, id := range lexicalIDs {
		f := get(id)
		if f.LexicalRank == 0 {
			f.LexicalRank = i + 1
			f.Score += 2 * (1 - w) / (k + float64(i+1))
		}
	}

	out := make([]Fused, 0, len(byID))
	for _, f := range byID {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
