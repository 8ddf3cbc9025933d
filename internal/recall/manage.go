package recall

import (
	"context"
	"fmt"

	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/registry"
)

// RecordOutcome marks whether the approach in a record worked or failed.
func (s *Service) RecordOutcome(ctx context.Context, p *registry.Project, id int64, outcome memory.Outcome, note string) (*memory.Record, error) {
	patch := memory.RecordPatch{Outcome: &outcome}
	if note != "" {
		patch.OutcomeNote = &note
	}
	return p.Store.UpdateRecord(ctx, id, patch, "outcome:"+string(outcome))
}

// Pin sets or clears the pinned flag. Pinned records are never pruned.
func (s *Service) Pin(ctx context.Context, p *registry.Project, id int64, pinned bool) (*memory.Record, error) {
	change := "pinned"
	if !pinned {
		change = "unpinned"
	}
	return p.Store.UpdateRecord(ctx, id, memory.RecordPatch{Pinned: &pinned}, change)
}

// Archive hides records from retrieval. They stay addressable by id.
func (s *Service) Archive(ctx context.Context, p *registry.Project, ids []int64, reason string) ([]int64, error) {
	if reason == "" {
		reason = "archived"
	}
	for _, id := range ids {
		if _, err := p.Store.GetRecord(ctx, id); err != nil {
			return nil, err
		}
	}
	archived, err := p.Store.ArchiveRecords(ctx, ids, reason)
	if err != nil {
		return nil, err
	}
	s.unindex(ctx, p, archived)
	return archived, nil
}

// unindex drops archived records from the indices after the archive
// committed. Vector failures only leave stale neighbours, which retrieval
// filters out.
func (s *Service) unindex(ctx context.Context, p *registry.Project, ids []int64) {
	for _, id := range ids {
		p.Lexical.Remove(id)
		if err := p.Vectors.Delete(ctx, id); err != nil {
			s.logger.Debug("vector delete failed", "project", p.Root, "id", id, "error", err)
		}
	}
}

// ─── Graph ───────────────────────────────────────────────────────────────────

// Link adds a typed edge between two records.
func (s *Service) Link(ctx context.Context, p *registry.Project, from, to int64, typ memory.RelationType, note string) (*memory.Relation, error) {
	return p.Store.AddRelation(ctx, from, to, typ, note)
}

// Unlink removes a typed edge.
func (s *Service) Unlink(ctx context.Context, p *registry.Project, from, to int64, typ memory.RelationType) error {
	if typ == "" {
		typ = memory.RelRelatedTo
	}
	return p.Store.RemoveRelation(ctx, from, to, typ)
}

// Chain is a traversal from one record.
type Chain struct {
	Root  *memory.Record     `json:"root"`
	Nodes []memory.ChainNode `json:"nodes"`
}

// Trace walks the relation graph from id up to depth hops. An unknown
// root yields an empty chain.
func (s *Service) Trace(ctx context.Context, p *registry.Project, id int64, depth int) (*Chain, error) {
	root, err := p.Store.GetRecord(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return &Chain{Nodes: []memory.ChainNode{}}, nil
		}
		return nil, err
	}
	nodes, err := p.Store.Traverse(ctx, id, depth)
	if err != nil {
		return nil, fmt.Errorf("trace %d: %w", id, err)
	}
	if nodes == nil {
		nodes = []memory.ChainNode{}
	}
	shaped := memory.Shape(*root, memory.DetailStandard)
	return &Chain{Root: &shaped, Nodes: nodes}, nil
}
