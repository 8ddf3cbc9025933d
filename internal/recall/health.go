package recall

import (
	"context"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/registry"
)

// Health reports the state of one project context.
type Health struct {
	Project          string            `json:"project"`
	Storage          string            `json:"storage"`
	LiveRecords      int               `json:"live_records"`
	IndexedRecords   int               `json:"indexed_records"`
	IndexConsistent  bool              `json:"index_consistent"`
	Embedder         string            `json:"embedder"`
	Vectors          string            `json:"vectors"`
	CommunitiesStale bool              `json:"communities_stale"`
	Stats            *memory.Stats     `json:"stats,omitempty"`
	Covenant         covenant.Snapshot `json:"covenant"`
}

const (
	statusOK          = "ok"
	statusUnavailable = "unavailable"
)

// Health probes storage, indices and the similarity service. Probe
// failures are reported in the result, never returned.
func (s *Service) Health(ctx context.Context, p *registry.Project) (*Health, error) {
	h := &Health{Project: p.Root, Storage: statusOK, Embedder: statusOK, Vectors: statusOK}
	now := s.now()
	p.WithCovenant(func(st *covenant.State) { h.Covenant = st.Snapshot(now, s.cfg.ConsultationTTL) })

	if err := p.Store.Ping(ctx); err != nil {
		h.Storage = err.Error()
		return h, nil
	}
	var err error
	if h.LiveRecords, err = p.Store.CountRecords(ctx); err != nil {
		h.Storage = err.Error()
	}
	h.IndexedRecords = p.Lexical.Len()
	h.IndexConsistent = h.IndexedRecords == h.LiveRecords
	h.Stats, _ = p.Store.Stats(ctx)
	h.CommunitiesStale, _ = s.CommunitiesStale(ctx, p)

	vec := s.embedText(ctx, "health probe")
	if vec == nil {
		h.Embedder = statusUnavailable
		h.Vectors = statusUnavailable
		return h, nil
	}
	if _, err := p.Vectors.Search(ctx, vec, 1); err != nil {
		h.Vectors = statusUnavailable
	}
	return h, nil
}

// Export dumps the whole project store.
func (s *Service) Export(ctx context.Context, p *registry.Project) (*memory.ExportData, error) {
	return p.Store.Export(ctx)
}
