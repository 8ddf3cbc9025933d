package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Config selects and tunes the embedding model.
type Config struct {
	Kind       string // "hash" or "openai"
	Model      string
	Dimensions int
	CacheSize  int64
	APIKey     string
	BaseURL    string
}

// Provider owns the single process-wide embedding model. The model is
// built on first use and shared by every project context.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	once     sync.Once
	embedder Embedder
	cache    *Cached
	initErr  error
}

// NewProvider returns a Provider that builds its model lazily.
func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, logger: logger}
}

// NewStaticProvider wraps an already built Embedder.
func NewStaticProvider(e Embedder) *Provider {
	p := &Provider{logger: slog.Default()}
	p.once.Do(func() { p.embedder = e })
	return p
}

// Embedder returns the shared model, building it on first call. When the
// model cannot be built it returns Unavailable and the build error.
func (p *Provider) Embedder() (Embedder, error) {
	p.once.Do(p.init)
	if p.initErr != nil {
		return Unavailable{}, p.initErr
	}
	return p.embedder, nil
}

// Embed is shorthand for Embedder().Embed.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := p.Embedder()
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// Close releases the cache if one was built.
func (p *Provider) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
}

func (p *Provider) init() {
	var base Embedder
	switch p.cfg.Kind {
	case "", "hash":
		base = NewHash(p.cfg.Dimensions)
	case "openai":
		e, err := NewOpenAI(p.cfg.APIKey, p.cfg.BaseURL, p.cfg.Model, p.cfg.Dimensions)
		if err != nil {
			p.initErr = err
			p.logger.Warn("embedding model unavailable, semantic search disabled", "kind", p.cfg.Kind, "error", err)
			return
		}
		base = e
	case "none":
		p.initErr = ErrUnavailable
		return
	default:
		p.initErr = fmt.Errorf("embedding: unknown embedder %q", p.cfg.Kind)
		return
	}

	cached, err := NewCached(base, p.cfg.CacheSize)
	if err != nil {
		p.logger.Warn("embedding cache disabled", "error", err)
		p.embedder = base
		return
	}
	p.cache = cached
	p.embedder = cached
	p.logger.Info("embedding model ready", "kind", p.cfg.Kind, "dimensions", base.Dimensions())
}
