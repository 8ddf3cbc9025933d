// Package embedding turns text into fixed-length vectors.
//
// The model behind an Embedder is external. Callers treat any error as
// "semantic search unavailable" and fall back to lexical retrieval.
package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrUnavailable is returned when no embedding model can serve requests.
var ErrUnavailable = errors.New("embedding: model unavailable")

// Embedder converts text to an embedding vector.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Unavailable is an Embedder that always fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) Embed(context.Context, string) ([]float32, error) { return nil, ErrUnavailable }
func (Unavailable) Dimensions() int                                  { return 0 }

// Normalize scales vec to unit length in place and returns it. A zero
// vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
