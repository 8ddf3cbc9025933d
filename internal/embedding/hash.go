package embedding

import (
	"context"
	"hash/fnv"

	"github.com/HendryAvila/warden/internal/lexical"
)

// HashEmbedder is an offline embedder based on feature hashing of word
// tokens and character trigrams. It needs no model, is deterministic, and
// places texts that share vocabulary close together.
type HashEmbedder struct {
	dimensions int
}

// NewHash returns a HashEmbedder producing vectors of the given size.
func NewHash(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed hashes every token (weight 1) and every trigram of every token
// (weight 0.5) into a signed bucket, then normalizes.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dimensions)
	for _, tok := range lexical.Tokenize(text) {
		h.add(vec, "w:"+tok, 1)
		r := []rune(tok)
		for i := 0; i+3 <= len(r); i++ {
			h.add(vec, "t:"+string(r[i:i+3]), 0.5)
		}
	}
	return Normalize(vec), nil
}

// Dimensions returns the embedding size.
func (h *HashEmbedder) Dimensions() int {
	return h.dimensions
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
