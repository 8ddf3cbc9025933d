package recall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HendryAvila/warden/internal/registry"
)

// IdleConfig tunes the idle reviewer.
type IdleConfig struct {
	// IdleAfter is how long the registry must see no Acquire before a
	// review pass runs.
	IdleAfter time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

// IdleReviewer does low-priority upkeep while nobody is using the
// server: rebuilding stale communities and repairing lexical indices that
// drifted from storage. It yields as soon as new activity is observed.
type IdleReviewer struct {
	reg    *registry.Registry
	svc    *Service
	cfg    IdleConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewIdleReviewer returns a stopped reviewer.
func NewIdleReviewer(reg *registry.Registry, svc *Service, cfg IdleConfig, logger *slog.Logger) *IdleReviewer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleReviewer{reg: reg, svc: svc, cfg: cfg, logger: logger}
}

// Start polls every Interval until Stop or ctx is done.
func (r *IdleReviewer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("recall: idle reviewer already running")
	}
	r.running = true
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.run(ctx, r.done)
	return nil
}

func (r *IdleReviewer) run(ctx context.Context, done <-chan struct{}) {
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
			if _, err := r.ReviewOnce(ctx); err != nil {
				r.logger.Warn("idle review", "error", err)
			}
		}
	}
}

// Stop halts polling and waits for an in-progress pass to yield.
func (r *IdleReviewer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	r.mu.Unlock()
	r.wg.Wait()
}

// ReviewOnce runs one pass if the registry has been idle long enough and
// returns how many projects it reviewed. It stops early when activity
// resumes.
func (r *IdleReviewer) ReviewOnce(ctx context.Context) (int, error) {
	seen := r.reg.LastActivity()
	if r.cfg.Now().Sub(seen) < r.cfg.IdleAfter {
		return 0, nil
	}

	reviewed := 0
	for _, info := range r.reg.Contexts(r.svc.cfg.ConsultationTTL) {
		if r.reg.LastActivity().After(seen) {
			r.logger.Debug("idle review yielding to new activity", "reviewed", reviewed)
			return reviewed, nil
		}
		if err := ctx.Err(); err != nil {
			return reviewed, err
		}
		p, ok := r.reg.Borrow(info.Root)
		if !ok {
			continue
		}
		err := r.review(ctx, p, seen)
		r.reg.Return(p)
		if err != nil {
			return reviewed, fmt.Errorf("review %s: %w", info.Root, err)
		}
		reviewed++
	}
	return reviewed, nil
}

func (r *IdleReviewer) review(ctx context.Context, p *registry.Project, seen time.Time) error {
	live, err := p.Store.CountRecords(ctx)
	if err != nil {
		return err
	}
	if live != p.Lexical.Len() {
		r.logger.Info("lexical index drifted from storage; rebuilding", "project", p.Root, "live", live, "indexed", p.Lexical.Len())
		if err := p.ReindexRecords(ctx); err != nil {
			return err
		}
	}
	if r.reg.LastActivity().After(seen) {
		return nil
	}
	stale, err := r.svc.CommunitiesStale(ctx, p)
	if err != nil || !stale {
		return err
	}
	_, err = r.svc.RebuildCommunities(ctx, p)
	return err
}
