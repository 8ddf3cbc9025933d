package recall

import (
	"context"
	"errors"
	"time"

	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/registry"
)

func isNotFound(err error) bool { return errors.Is(err, memory.ErrNotFound) }

// Cleanup is the result of a duplicate sweep.
type Cleanup struct {
	DryRun   bool                    `json:"dry_run"`
	Groups   []memory.DuplicateGroup `json:"groups"`
	Archived []int64                 `json:"archived"`
}

// CleanupDuplicates finds groups of live records with the same category,
// normalized content and file. Unless dryRun is set, every record but the
// newest in each group is archived. A dry run never writes.
func (s *Service) CleanupDuplicates(ctx context.Context, p *registry.Project, dryRun bool) (*Cleanup, error) {
	groups, err := p.Store.DuplicateGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := &Cleanup{DryRun: dryRun, Groups: groups, Archived: []int64{}}
	if out.Groups == nil {
		out.Groups = []memory.DuplicateGroup{}
	}
	if dryRun || len(groups) == 0 {
		return out, nil
	}
	var older []int64
	for _, g := range groups {
		older = append(older, g.IDs[1:]...)
	}
	archived, err := p.Store.ArchiveRecords(ctx, older, "merged duplicate")
	if err != nil {
		return nil, err
	}
	s.unindex(ctx, p, archived)
	out.Archived = archived
	return out, nil
}

// Prune is the result of a staleness sweep.
type Prune struct {
	DryRun     bool            `json:"dry_run"`
	Cutoff     time.Time       `json:"cutoff"`
	Candidates []memory.Record `json:"candidates"`
	Archived   []int64         `json:"archived"`
}

// PruneStale archives decaying records older than olderThan that are
// unpinned and were never recalled. olderThan <= 0 uses the configured
// default. A dry run only lists candidates.
func (s *Service) PruneStale(ctx context.Context, p *registry.Project, olderThan time.Duration, dryRun bool) (*Prune, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.PruneAfter
	}
	cutoff := s.now().Add(-olderThan)
	stale, err := p.Store.StaleRecords(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	out := &Prune{DryRun: dryRun, Cutoff: cutoff, Candidates: []memory.Record{}, Archived: []int64{}}
	ids := make([]int64, 0, len(stale))
	for _, r := range stale {
		out.Candidates = append(out.Candidates, memory.Shape(r, memory.DetailSummary))
		ids = append(ids, r.ID)
	}
	if dryRun || len(ids) == 0 {
		return out, nil
	}
	archived, err := p.Store.ArchiveRecords(ctx, ids, "pruned")
	if err != nil {
		return nil, err
	}
	s.unindex(ctx, p, archived)
	out.Archived = archived
	return out, nil
}

// Rebuild reports a full index rebuild.
type Rebuild struct {
	Records  int  `json:"records"`
	Rules    int  `json:"rules"`
	Vectors  int  `json:"vectors"`
	Embedded int  `json:"embedded"`
	Degraded bool `json:"degraded"`
}

// RebuildIndex rebuilds the lexical indices from storage and pushes every
// live record's embedding back into the vector index, embedding records
// that have none yet.
func (s *Service) RebuildIndex(ctx context.Context, p *registry.Project) (*Rebuild, error) {
	if err := p.Reindex(ctx); err != nil {
		return nil, err
	}
	out := &Rebuild{Records: p.Lexical.Len(), Rules: p.Rules.Len()}

	recs, err := p.Store.QueryRecords(ctx, memory.Filter{})
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := &recs[i]
		vec := rec.Embedding
		if len(vec) == 0 {
			if vec = s.embedText(ctx, rec.IndexText()); vec == nil {
				out.Degraded = true
				break
			}
			if _, err := p.Store.UpdateRecord(ctx, rec.ID, memory.RecordPatch{Embedding: vec}, "embedded"); err != nil {
				return nil, err
			}
			out.Embedded++
		}
		if err := p.Vectors.Upsert(ctx, rec.ID, vec); err != nil {
			s.logger.Warn("vector rebuild stopped", "project", p.Root, "error", err)
			out.Degraded = true
			break
		}
		out.Vectors++
	}
	return out, nil
}
