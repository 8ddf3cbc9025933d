package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

const chromemCollection = "records"

// ChromemBackend stores each project's vectors in an embedded, persistent
// chromem-go database under the project's state directory.
type ChromemBackend struct{}

// Open opens (or creates) <dir>/vectors.
func (ChromemBackend) Open(_ context.Context, _ string, dir string) (Index, error) {
	return OpenChromem(filepath.Join(dir, "vectors"))
}

func (ChromemBackend) Name() string { return "chromem" }
func (ChromemBackend) Close() error { return nil }

// Chromem is an Index backed by one chromem-go collection.
type Chromem struct {
	db  *chromem.DB
	col *chromem.Collection
}

// OpenChromem opens a persistent chromem database at path.
func OpenChromem(path string) (*Chromem, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: open chromem at %s: %v", ErrUnavailable, path, err)
	}
	// Embeddings are always supplied by the caller.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, errors.New("vectorindex: embeddings must be provided")
	}
	col, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem collection: %v", ErrUnavailable, err)
	}
	return &Chromem{db: db, col: col}, nil
}

// Upsert stores vec under id, replacing any previous vector.
func (c *Chromem) Upsert(ctx context.Context, id int64, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	doc := chromem.Document{
		ID:        strconv.FormatInt(id, 10),
		Embedding: vec,
		Content:   strconv.FormatInt(id, 10),
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem upsert %d: %w", id, err)
	}
	return nil
}

// Delete removes id. Unknown ids are ignored.
func (c *Chromem) Delete(ctx context.Context, id int64) error {
	if err := c.col.Delete(ctx, nil, nil, strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("chromem delete %d: %w", id, err)
	}
	return nil
}

// Search returns up to topK neighbours ordered by similarity.
func (c *Chromem) Search(ctx context.Context, vec []float32, topK int) ([]Hit, error) {
	n := c.col.Count()
	if n == 0 || topK <= 0 {
		return []Hit{}, nil
	}
	// chromem-go requires nResults <= collection size.
	if topK > n {
		topK = n
	}
	results, err := c.col.QueryEmbedding(ctx, vec, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// Count returns the number of stored vectors.
func (c *Chromem) Count() int {
	return c.col.Count()
}

// Close is a no-op; chromem persists on every write.
func (c *Chromem) Close() error {
	return nil
}
