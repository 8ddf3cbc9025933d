package vectorindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGVectorBackend stores vectors for every project in one PostgreSQL
// table, partitioned by project key.
type PGVectorBackend struct {
	pool *pgxpool.Pool
}

// NewPGVector connects to dsn and ensures the schema exists. dims fixes
// the vector column width.
func NewPGVector(ctx context.Context, dsn string, dims int) (*PGVectorBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: create connection pool: %v", ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping database: %v", ErrUnavailable, err)
	}

	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS record_vectors (
			project   TEXT   NOT NULL,
			record_id BIGINT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (project, record_id)
		);`, dims)
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrUnavailable, err)
	}
	return &PGVectorBackend{pool: pool}, nil
}

// Open returns the project-scoped view. It shares the backend pool.
func (b *PGVectorBackend) Open(_ context.Context, project, _ string) (Index, error) {
	return &PGVector{pool: b.pool, project: project}, nil
}

func (b *PGVectorBackend) Name() string { return "pgvector" }

// Close closes the shared pool.
func (b *PGVectorBackend) Close() error {
	b.pool.Close()
	return nil
}

// PGVector is one project's slice of the record_vectors table.
type PGVector struct {
	pool    *pgxpool.Pool
	project string
}

func (p *PGVector) Upsert(ctx context.Context, id int64, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO record_vectors (project, record_id, embedding) VALUES ($1, $2, $3)
		 ON CONFLICT (project, record_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		p.project, id, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("pgvector upsert %d: %w", id, err)
	}
	return nil
}

func (p *PGVector) Delete(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM record_vectors WHERE project = $1 AND record_id = $2`, p.project, id)
	if err != nil {
		return fmt.Errorf("pgvector delete %d: %w", id, err)
	}
	return nil
}

func (p *PGVector) Search(ctx context.Context, vec []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT record_id, 1 - (embedding <=> $2) AS similarity
		 FROM record_vectors
		 WHERE project = $1
		 ORDER BY embedding <=> $2, record_id
		 LIMIT $3`,
		p.project, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Close is a no-op; the pool belongs to the backend.
func (p *PGVector) Close() error {
	return nil
}
