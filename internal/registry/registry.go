// Package registry lazily creates, shares and evicts one Project per
// normalized project root.
//
// Lock order is always registry then project. Eviction is two-phase: the
// registry lock is held only while candidates are chosen and marked, and
// their handles are closed after it is released.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("registry: closed")

// Config tunes the registry.
type Config struct {
	IdleTTL          time.Duration
	MaxContexts      int
	Interval         time.Duration
	Cooldown         time.Duration
	MaxConsultations int
	Now              func() time.Time
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		IdleTTL:          30 * time.Minute,
		MaxContexts:      16,
		Interval:         60 * time.Second,
		Cooldown:         30 * time.Second,
		MaxConsultations: covenant.DefaultMaxConsultations,
		Now:              time.Now,
	}
}

// Registry owns every live Project.
type Registry struct {
	cfg    Config
	open   OpenFunc
	logger *slog.Logger

	projects sync.Map // root -> *Project
	mu       sync.Mutex
	count    int
	group    singleflight.Group
	limiter  *rate.Limiter
	activity atomic.Int64
	closed   atomic.Bool

	schedMu sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New returns an empty registry that builds projects with open.
func New(cfg Config, open OpenFunc, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	limit := rate.Inf
	if cfg.Cooldown > 0 {
		limit = rate.Every(cfg.Cooldown)
	}
	r := &Registry{
		cfg:     cfg,
		open:    open,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
	}
	r.activity.Store(cfg.Now().UnixNano())
	return r
}

// Acquire returns the project for path, creating it on first use, with its
// in-flight counter incremented. Every successful Acquire must be paired
// with Release, normally deferred.
func (r *Registry) Acquire(ctx context.Context, path string) (*Project, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	root, err := Normalize(path)
	if err != nil {
		return nil, err
	}
	r.activity.Store(r.cfg.Now().UnixNano())

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if v, ok := r.projects.Load(root); ok {
			p := v.(*Project)
			if p.enter(r.cfg.Now(), true) {
				return p, nil
			}
			// Being torn down; wait for it to leave the map.
			select {
			case <-p.gone:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		ch := r.group.DoChan(root, func() (any, error) {
			return r.create(context.WithoutCancel(ctx), root)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			p := res.Val.(*Project)
			if p.enter(r.cfg.Now(), true) {
				r.enforceLimit()
				return p, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release ends one in-flight request on p.
func (r *Registry) Release(p *Project) {
	p.leave(r.cfg.Now(), true)
}

// Do acquires path, runs fn and releases the project whatever fn returns.
func (r *Registry) Do(ctx context.Context, path string, fn func(*Project) error) error {
	p, err := r.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer r.Release(p)
	return fn(p)
}

// Borrow pins an already registered project without counting as activity
// or refreshing its idle clock. It never creates a project.
func (r *Registry) Borrow(root string) (*Project, bool) {
	v, ok := r.projects.Load(root)
	if !ok {
		return nil, false
	}
	p := v.(*Project)
	if !p.enter(r.cfg.Now(), false) {
		return nil, false
	}
	return p, true
}

// Return ends a Borrow.
func (r *Registry) Return(p *Project) {
	p.leave(r.cfg.Now(), false)
}

// LastActivity is the time of the most recent Acquire.
func (r *Registry) LastActivity() time.Time {
	return time.Unix(0, r.activity.Load()).UTC()
}

// Len returns the number of registered projects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Registry) create(ctx context.Context, root string) (*Project, error) {
	r.mu.Lock()
	if v, ok := r.projects.Load(root); ok {
		r.mu.Unlock()
		return v.(*Project), nil
	}
	r.mu.Unlock()

	p, err := r.open(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", root, err)
	}
	p.init(root, r.cfg.Now(), r.cfg.MaxConsultations)

	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		_ = p.close()
		return nil, ErrClosed
	}
	r.projects.Store(root, p)
	r.count++
	n := r.count
	r.mu.Unlock()

	r.logger.Info("project context created", "project", root, "contexts", n)
	return p, nil
}

// ─── Eviction ────────────────────────────────────────────────────────────────

// EvictIdle closes every project idle for longer than the idle TTL with no
// in-flight requests. Calls within the cooldown window of the previous
// sweep do nothing.
func (r *Registry) EvictIdle(ctx context.Context) (int, error) {
	now := r.cfg.Now()
	if !r.limiter.AllowN(now, 1) {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := now.Add(-r.cfg.IdleTTL)
	victims := r.mark(func(live []*Project) []*Project {
		var out []*Project
		for _, p := range live {
			if p.LastAccessed().Before(cutoff) {
				out = append(out, p)
			}
		}
		return out
	})
	return len(victims), r.teardown(victims, "idle")
}

// enforceLimit evicts least recently used idle projects while more than
// MaxContexts are registered. When every project is busy the limit is
// exceeded rather than failing the caller.
func (r *Registry) enforceLimit() {
	if r.cfg.MaxContexts <= 0 {
		return
	}
	busy := false
	victims := r.mark(func(live []*Project) []*Project {
		over := len(live) - r.cfg.MaxContexts
		if over <= 0 {
			return nil
		}
		idle := live[:0:0]
		for _, p := range live {
			if p.Active() == 0 {
				idle = append(idle, p)
			}
		}
		sort.Slice(idle, func(i, j int) bool {
			return idle[i].lastAccessed.Load() < idle[j].lastAccessed.Load()
		})
		if len(idle) < over {
			busy = true
			over = len(idle)
		}
		return idle[:over]
	})
	if busy {
		r.logger.Warn("max_contexts exceeded; every other context is busy", "max_contexts", r.cfg.MaxContexts)
	}
	if err := r.teardown(victims, "lru"); err != nil {
		r.logger.Error("evict least recently used context", "error", err)
	}
}

// mark runs pick over the live projects with the registry lock and every
// project lock held, then marks the picked idle projects closed so no new
// request can enter them.
func (r *Registry) mark(pick func(live []*Project) []*Project) []*Project {
	r.mu.Lock()
	defer r.mu.Unlock()

	var live []*Project
	r.projects.Range(func(_, v any) bool {
		p := v.(*Project)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return true
		}
		live = append(live, p)
		return true
	})
	defer func() {
		for _, p := range live {
			p.mu.Unlock()
		}
	}()

	var out []*Project
	for _, p := range pick(live) {
		if p.active.Load() == 0 {
			p.closed = true
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) teardown(victims []*Project, reason string) error {
	var g errgroup.Group
	for _, p := range victims {
		g.Go(func() error {
			err := p.close()
			r.mu.Lock()
			if r.projects.CompareAndDelete(p.Root, p) {
				r.count--
			}
			r.mu.Unlock()
			close(p.gone)
			r.logger.Info("project context evicted", "project", p.Root, "reason", reason)
			if err != nil {
				return fmt.Errorf("registry: close %s: %w", p.Root, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ─── Background sweep ────────────────────────────────────────────────────────

// Start runs EvictIdle every Interval until Stop or ctx is done.
func (r *Registry) Start(ctx context.Context) error {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.running {
		return fmt.Errorf("registry: eviction sweep already running")
	}
	r.running = true
	r.done = make(chan struct{})

	r.logger.Info("eviction sweep starting", "interval", r.cfg.Interval.String(), "idle_ttl", r.cfg.IdleTTL.String())
	r.wg.Add(1)
	go r.runLoop(ctx, r.done)
	return nil
}

func (r *Registry) runLoop(ctx context.Context, done <-chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if n, err := r.EvictIdle(ctx); err != nil {
				r.logger.Error("eviction sweep", "error", err)
			} else if n > 0 {
				r.logger.Debug("eviction sweep", "evicted", n)
			}
		}
	}
}

// Stop halts the background sweep and waits for it to exit.
func (r *Registry) Stop() {
	r.schedMu.Lock()
	if !r.running {
		r.schedMu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	r.schedMu.Unlock()
	r.wg.Wait()
}

// Close stops the sweep and closes every project. Callers must let
// in-flight requests finish first.
func (r *Registry) Close() error {
	r.Stop()
	r.closed.Store(true)

	r.mu.Lock()
	var all []*Project
	r.projects.Range(func(_, v any) bool {
		p := v.(*Project)
		p.mu.Lock()
		if !p.closed {
			p.closed = true
			all = append(all, p)
		}
		p.mu.Unlock()
		return true
	})
	r.mu.Unlock()
	return r.teardown(all, "shutdown")
}

// ─── Introspection ───────────────────────────────────────────────────────────

// Info describes one registered project.
type Info struct {
	Root         string            `json:"root"`
	Active       int64             `json:"active_requests"`
	LastAccessed time.Time         `json:"last_accessed"`
	Covenant     covenant.Snapshot `json:"covenant"`
}

// Contexts lists registered projects ordered by root.
func (r *Registry) Contexts(ttl time.Duration) []Info {
	now := r.cfg.Now()
	var out []Info
	r.projects.Range(func(_, v any) bool {
		p := v.(*Project)
		info := Info{Root: p.Root, Active: p.Active(), LastAccessed: p.LastAccessed()}
		p.WithCovenant(func(st *covenant.State) { info.Covenant = st.Snapshot(now, ttl) })
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}
