// Package vectorindex adapts external similarity-search services.
//
// Every backend reports connection or service failures as ErrUnavailable
// so retrieval can degrade to lexical-only instead of failing.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable signals that the similarity service cannot be reached.
var ErrUnavailable = errors.New("vectorindex: unavailable")

// Hit is one nearest neighbour. Score is cosine similarity in [-1, 1].
type Hit struct {
	ID    int64   `json:"id"`
	Score float64 `json:"score"`
}

// Index is one project's view of a similarity service.
type Index interface {
	Upsert(ctx context.Context, id int64, vec []float32) error
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, vec []float32, topK int) ([]Hit, error)
	Close() error
}

// Backend opens per-project indices.
type Backend interface {
	// Open returns the index for project. dir is the project's private
	// state directory, for backends that store data locally.
	Open(ctx context.Context, project, dir string) (Index, error)
	Name() string
	Close() error
}

// ─── Unavailable ─────────────────────────────────────────────────────────────

// Unavailable is an Index whose every call fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) Upsert(context.Context, int64, []float32) error { return ErrUnavailable }
func (Unavailable) Delete(context.Context, int64) error            { return ErrUnavailable }
func (Unavailable) Search(context.Context, []float32, int) ([]Hit, error) {
	return nil, ErrUnavailable
}
func (Unavailable) Close() error { return nil }

// NoneBackend opens Unavailable indices.
type NoneBackend struct{}

func (NoneBackend) Open(context.Context, string, string) (Index, error) { return Unavailable{}, nil }
func (NoneBackend) Name() string                                         { return "none" }
func (NoneBackend) Close() error                                         { return nil }

// ─── Timeout ─────────────────────────────────────────────────────────────────

// Timeout bounds every call on an Index and maps all failures to
// ErrUnavailable. Caller cancellation is passed through unchanged.
type Timeout struct {
	next    Index
	timeout time.Duration
}

// WithTimeout wraps idx. A non-positive d disables the bound.
func WithTimeout(idx Index, d time.Duration) *Timeout {
	return &Timeout{next: idx, timeout: d}
}

func (t *Timeout) Upsert(ctx context.Context, id int64, vec []float32) error {
	cctx, cancel := t.bound(ctx)
	defer cancel()
	return t.classify(ctx, t.next.Upsert(cctx, id, vec))
}

func (t *Timeout) Delete(ctx context.Context, id int64) error {
	cctx, cancel := t.bound(ctx)
	defer cancel()
	return t.classify(ctx, t.next.Delete(cctx, id))
}

func (t *Timeout) Search(ctx context.Context, vec []float32, topK int) ([]Hit, error) {
	cctx, cancel := t.bound(ctx)
	defer cancel()

	type result struct {
		hits []Hit
		err  error
	}
	done := make(chan result, 1)
	go func() {
		hits, err := t.next.Search(cctx, vec, topK)
		done <- result{hits, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, t.classify(ctx, r.err)
		}
		return r.hits, nil
	case <-cctx.Done():
		return nil, t.classify(ctx, cctx.Err())
	}
}

func (t *Timeout) Close() error {
	return t.next.Close()
}

func (t *Timeout) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t *Timeout) classify(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
