package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// AddRelation creates a typed edge from -> to. Self loops return
// ErrSelfRelation and repeated (from, to, type) triples return
// ErrDuplicateRelation. Both endpoints must exist.
func (s *Store) AddRelation(ctx context.Context, from, to int64, typ RelationType, note string) (*Relation, error) {
	if from == to {
		return nil, ErrSelfRelation
	}
	if typ == "" {
		typ = RelRelatedTo
	}
	if !ValidRelationTypes[typ] {
		return nil, fmt.Errorf("memory: invalid relation type %q", typ)
	}

	rel := &Relation{FromID: from, ToID: to, Type: typ, Note: note, CreatedAt: now()}
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, id := range []int64{from, to} {
			if _, err := getRecord(ctx, tx, id); err != nil {
				return err
			}
		}
		res, err := s.execHook(ctx, tx,
			`INSERT INTO relations (from_id, to_id, type, note, created_at) VALUES (?, ?, ?, ?, ?)`,
			from, to, string(typ), nullableString(note), formatTime(rel.CreatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateRelation
			}
			return fmt.Errorf("insert relation: %w", err)
		}
		rel.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateRelation) {
			return nil, err
		}
		return nil, fmt.Errorf("memory: %w", err)
	}
	return rel, nil
}

// RemoveRelation deletes the edge matching (from, to, type).
func (s *Store) RemoveRelation(ctx context.Context, from, to int64, typ RelationType) error {
	if typ == "" {
		typ = RelRelatedTo
	}
	var affected int64
	err := s.withRetry(ctx, func() error {
		res, err := s.execHook(ctx, s.db,
			`DELETE FROM relations WHERE from_id = ? AND to_id = ? AND type = ?`, from, to, string(typ))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("memory: remove relation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("relation %d -[%s]-> %d: %w", from, typ, to, ErrNotFound)
	}
	return nil
}

// Relations returns every edge touching id in either direction.
func (s *Store) Relations(ctx context.Context, id int64) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, to_id, type, COALESCE(note, ''), created_at
		 FROM relations WHERE from_id = ? OR to_id = ? ORDER BY id`, id, id)
	if err != nil {
		return nil, fmt.Errorf("memory: relations: %w", err)
	}
	defer rows.Close()
	return scanRelations(rows)
}

// AllRelations returns every edge in the store.
func (s *Store) AllRelations(ctx context.Context) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, to_id, type, COALESCE(note, ''), created_at FROM relations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("memory: relations: %w", err)
	}
	defer rows.Close()
	return scanRelations(rows)
}

// Traverse walks the relation graph breadth-first from root up to
// maxDepth hops (default 2, capped at 5), skipping archived records.
// The root itself is not included.
func (s *Store) Traverse(ctx context.Context, root int64, maxDepth int) ([]ChainNode, error) {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if maxDepth > 5 {
		maxDepth = 5
	}
	if _, err := s.GetRecord(ctx, root); err != nil {
		return nil, err
	}

	type queueItem struct {
		id    int64
		depth int
	}

	visited := map[int64]bool{root: true}
	queue := []queueItem{{id: root}}
	var nodes []ChainNode

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		rels, err := s.Relations(ctx, current.id)
		if err != nil {
			return nil, err
		}

		next := make(map[int64]Relation)
		var order []int64
		for _, rel := range rels {
			other := rel.ToID
			if rel.ToID == current.id {
				other = rel.FromID
			}
			if visited[other] {
				continue
			}
			visited[other] = true
			next[other] = rel
			order = append(order, other)
		}
		if len(order) == 0 {
			continue
		}

		recs, err := s.GetRecords(ctx, order)
		if err != nil {
			return nil, err
		}
		for _, id := range order {
			rec, ok := recs[id]
			if !ok || rec.Archived {
				continue
			}
			rel := next[id]
			direction := "outgoing"
			if rel.ToID == current.id {
				direction = "incoming"
			}
			nodes = append(nodes, ChainNode{
				ID:           id,
				Category:     rec.Category,
				Content:      rec.Content,
				RelationType: rel.Type,
				Direction:    direction,
				Depth:        current.depth + 1,
			})
			queue = append(queue, queueItem{id: id, depth: current.depth + 1})
		}
	}
	return nodes, nil
}

func scanRelations(rows *sql.Rows) ([]Relation, error) {
	var out []Relation
	for rows.Next() {
		var r Relation
		var typ, created string
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &typ, &r.Note, &created); err != nil {
			return nil, fmt.Errorf("memory: scan relation: %w", err)
		}
		r.Type = RelationType(typ)
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "constraint failed: unique")
}
