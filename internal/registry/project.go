package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/lexical"
	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/vectorindex"
)

// Project is the isolated state bundle for one project root.
//
// The handles are safe for concurrent use. Covenant state is guarded by
// the project lock and reached through WithCovenant.
type Project struct {
	Root        string
	Store       *memory.Store
	Lexical     *lexical.Index
	Rules       *lexical.Index
	Communities *lexical.Index
	Vectors     vectorindex.Index

	mu       sync.Mutex
	covenant covenant.State
	closed   bool

	active       atomic.Int64
	lastAccessed atomic.Int64
	gone         chan struct{}
}

// WithCovenant runs fn with the project's covenant state locked.
func (p *Project) WithCovenant(fn func(st *covenant.State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.covenant)
}

// Active returns the number of in-flight requests holding the project.
func (p *Project) Active() int64 { return p.active.Load() }

// LastAccessed returns when the project was last acquired or released.
func (p *Project) LastAccessed() time.Time {
	return time.Unix(0, p.lastAccessed.Load()).UTC()
}

func (p *Project) init(root string, now time.Time, maxConsultations int) {
	p.Root = root
	p.gone = make(chan struct{})
	p.covenant.Max = maxConsultations
	p.lastAccessed.Store(now.UnixNano())
}

// enter registers one in-flight request. It fails once the project has
// been marked for teardown.
func (p *Project) enter(now time.Time, touch bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.active.Add(1)
	if touch {
		p.lastAccessed.Store(now.UnixNano())
	}
	return true
}

func (p *Project) leave(now time.Time, touch bool) {
	if touch {
		p.lastAccessed.Store(now.UnixNano())
	}
	p.active.Add(-1)
}

func (p *Project) close() error {
	var errs []error
	if p.Vectors != nil {
		errs = append(errs, p.Vectors.Close())
	}
	if p.Store != nil {
		errs = append(errs, p.Store.Close())
	}
	return errors.Join(errs...)
}

// Reindex rebuilds the in-memory indices from storage.
func (p *Project) Reindex(ctx context.Context) error {
	if err := p.ReindexRecords(ctx); err != nil {
		return err
	}
	if err := p.ReindexRules(ctx); err != nil {
		return err
	}
	return p.ReindexCommunities(ctx)
}

// ReindexRecords rebuilds the lexical index over live records.
func (p *Project) ReindexRecords(ctx context.Context) error {
	recs, err := p.Store.QueryRecords(ctx, memory.Filter{})
	if err != nil {
		return fmt.Errorf("reindex records: %w", err)
	}
	docs := make(map[int64]string, len(recs))
	for i := range recs {
		docs[recs[i].ID] = recs[i].IndexText()
	}
	p.Lexical.Rebuild(docs)
	return nil
}

// ReindexRules rebuilds the rule index over enabled rules.
func (p *Project) ReindexRules(ctx context.Context) error {
	rules, err := p.Store.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("reindex rules: %w", err)
	}
	docs := make(map[int64]string, len(rules))
	for i := range rules {
		docs[rules[i].ID] = rules[i].IndexText()
	}
	p.Rules.Rebuild(docs)
	return nil
}

// ReindexCommunities rebuilds the community index.
func (p *Project) ReindexCommunities(ctx context.Context) error {
	comms, err := p.Store.ListCommunities(ctx)
	if err != nil {
		return fmt.Errorf("reindex communities: %w", err)
	}
	docs := make(map[int64]string, len(comms))
	for i := range comms {
		docs[comms[i].ID] = comms[i].IndexText()
	}
	p.Communities.Rebuild(docs)
	return nil
}

// ─── Opening ─────────────────────────────────────────────────────────────────

// OpenFunc constructs a Project's handles for a normalized root. It must
// release everything it opened when it fails.
type OpenFunc func(ctx context.Context, root string) (*Project, error)

// OpenOptions configure NewOpener.
type OpenOptions struct {
	DataDirName      string
	MaxContentLength int
	StorageRetries   int
	VectorTimeout    time.Duration
}

// NewOpener returns an OpenFunc that stores each project under
// <root>/<DataDirName>. A vector backend that cannot open leaves the
// project on an Unavailable index rather than failing construction.
func NewOpener(opts OpenOptions, backend vectorindex.Backend, logger *slog.Logger) OpenFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		backend = vectorindex.NoneBackend{}
	}
	return func(ctx context.Context, root string) (*Project, error) {
		dir := filepath.Join(root, opts.DataDirName)
		cfg := memory.DefaultConfig(dir)
		if opts.MaxContentLength > 0 {
			cfg.MaxContentLength = opts.MaxContentLength
		}
		if opts.StorageRetries > 0 {
			cfg.Retries = opts.StorageRetries
		}
		store, err := memory.New(cfg)
		if err != nil {
			return nil, err
		}

		p := &Project{
			Store:       store,
			Lexical:     lexical.New(),
			Rules:       lexical.New(),
			Communities: lexical.New(),
		}
		if err := p.Reindex(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}

		idx, err := backend.Open(ctx, root, dir)
		if err != nil {
			logger.Warn("vector index unavailable", "project", root, "backend", backend.Name(), "error", err)
			idx = vectorindex.Unavailable{}
		}
		p.Vectors = vectorindex.WithTimeout(idx, opts.VectorTimeout)
		return p, nil
	}
}
