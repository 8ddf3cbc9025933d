// Package config loads warden's flat option set.
//
// Precedence, lowest first: built-in defaults, an optional YAML file, then
// WARDEN_<OPTION> environment variables (WARDEN_MAX_CONTEXTS=32).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/HendryAvila/warden/internal/embedding"
	"github.com/HendryAvila/warden/internal/recall"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WARDEN"

// Config is the effective configuration.
type Config struct {
	DataDirName string `mapstructure:"data_dir_name" yaml:"data_dir_name"`

	DecayHalfLifeDays   float64 `mapstructure:"decay_half_life_days" yaml:"decay_half_life_days"`
	RRFK                float64 `mapstructure:"rrf_k" yaml:"rrf_k"`
	VectorWeight        float64 `mapstructure:"vector_weight" yaml:"vector_weight"`
	DiversityCap        int     `mapstructure:"diversity_cap" yaml:"diversity_cap"`
	ComplexityThreshold float64 `mapstructure:"complexity_threshold" yaml:"complexity_threshold"`
	GraphDepth          int     `mapstructure:"graph_depth" yaml:"graph_depth"`
	NoveltyThreshold    float64 `mapstructure:"novelty_threshold" yaml:"novelty_threshold"`
	NoveltyWeight       float64 `mapstructure:"novelty_weight" yaml:"novelty_weight"`

	ConsultationTTL  time.Duration `mapstructure:"consultation_ttl" yaml:"consultation_ttl"`
	MaxConsultations int           `mapstructure:"max_consultations" yaml:"max_consultations"`

	ContextIdleTTL   time.Duration `mapstructure:"context_idle_ttl" yaml:"context_idle_ttl"`
	MaxContexts      int           `mapstructure:"max_contexts" yaml:"max_contexts"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval" yaml:"eviction_interval"`
	EvictionCooldown time.Duration `mapstructure:"eviction_cooldown" yaml:"eviction_cooldown"`

	MaxContentLength int `mapstructure:"max_content_length" yaml:"max_content_length"`
	StorageRetries   int `mapstructure:"storage_retries" yaml:"storage_retries"`

	VectorBackend string        `mapstructure:"vector_backend" yaml:"vector_backend"`
	VectorTimeout time.Duration `mapstructure:"vector_timeout" yaml:"vector_timeout"`
	PGVectorDSN   string        `mapstructure:"pgvector_dsn" yaml:"pgvector_dsn"`

	Embedder            string `mapstructure:"embedder" yaml:"embedder"`
	EmbeddingModel      string `mapstructure:"embedding_model" yaml:"embedding_model"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions" yaml:"embedding_dimensions"`
	EmbeddingCacheSize  int64  `mapstructure:"embedding_cache_size" yaml:"embedding_cache_size"`
	OpenAIAPIKey        string `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL       string `mapstructure:"openai_base_url" yaml:"openai_base_url"`

	IdleAfter    time.Duration `mapstructure:"idle_after" yaml:"idle_after"`
	IdleInterval time.Duration `mapstructure:"idle_interval" yaml:"idle_interval"`

	HTTPAddr  string `mapstructure:"http_addr" yaml:"http_addr"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DataDirName:         ".warden",
		DecayHalfLifeDays:   30,
		RRFK:                60,
		VectorWeight:        0.5,
		DiversityCap:        3,
		ComplexityThreshold: 0.6,
		GraphDepth:          2,
		NoveltyThreshold:    0.7,
		NoveltyWeight:       0.5,
		ConsultationTTL:     5 * time.Minute,
		MaxConsultations:    10,
		ContextIdleTTL:      30 * time.Minute,
		MaxContexts:         16,
		EvictionInterval:    60 * time.Second,
		EvictionCooldown:    30 * time.Second,
		MaxContentLength:    4000,
		StorageRetries:      4,
		VectorBackend:       "chromem",
		VectorTimeout:       2 * time.Second,
		Embedder:            "hash",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 256,
		EmbeddingCacheSize:  4096,
		IdleAfter:           2 * time.Minute,
		IdleInterval:        30 * time.Second,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// DefaultPath is ~/.warden/config.yaml, or "" without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".warden", "config.yaml")
}

// Load reads the configuration. An explicit path must exist; the default
// path is used only when present.
func Load(path string) (Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return Config{}, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every option with viper so environment overrides
// apply to keys absent from the file. The key list comes from the yaml
// rendering of Default.
func setDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: encode defaults: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("config: decode defaults: %w", err)
	}
	def := Default()
	durations := map[string]time.Duration{
		"consultation_ttl":  def.ConsultationTTL,
		"context_idle_ttl":  def.ContextIdleTTL,
		"eviction_interval": def.EvictionInterval,
		"eviction_cooldown": def.EvictionCooldown,
		"vector_timeout":    def.VectorTimeout,
		"idle_after":        def.IdleAfter,
		"idle_interval":     def.IdleInterval,
	}
	for k, val := range m {
		if d, ok := durations[k]; ok {
			val = d
		}
		v.SetDefault(k, val)
	}
	return nil
}

// Validate rejects out-of-range options.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("config: "+format, args...))
		}
	}
	check(c.DataDirName != "" && !filepath.IsAbs(c.DataDirName), "data_dir_name must be a relative directory name")
	check(c.VectorWeight >= 0 && c.VectorWeight <= 1, "vector_weight must be within [0, 1], got %v", c.VectorWeight)
	check(c.ComplexityThreshold >= 0 && c.ComplexityThreshold <= 1, "complexity_threshold must be within [0, 1], got %v", c.ComplexityThreshold)
	check(c.RRFK > 0, "rrf_k must be positive")
	check(c.DecayHalfLifeDays > 0, "decay_half_life_days must be positive")
	check(c.GraphDepth >= 0 && c.GraphDepth <= 5, "graph_depth must be within [0, 5], got %d", c.GraphDepth)
	check(c.ConsultationTTL > 0, "consultation_ttl must be positive")
	check(c.ContextIdleTTL > 0, "context_idle_ttl must be positive")
	check(c.MaxContexts > 0, "max_contexts must be positive")
	check(c.EvictionInterval > 0, "eviction_interval must be positive")
	check(c.MaxContentLength > 0, "max_content_length must be positive")
	check(c.MaxConsultations > 0, "max_consultations must be positive")
	check(c.EmbeddingDimensions > 0, "embedding_dimensions must be positive")
	check(oneOf(c.VectorBackend, "chromem", "pgvector", "none"), "vector_backend must be chromem, pgvector or none, got %q", c.VectorBackend)
	check(c.VectorBackend != "pgvector" || c.PGVectorDSN != "", "pgvector_dsn is required when vector_backend is pgvector")
	check(oneOf(c.Embedder, "hash", "openai"), "embedder must be hash or openai, got %q", c.Embedder)
	check(oneOf(c.LogFormat, "text", "json"), "log_format must be text or json, got %q", c.LogFormat)
	var lvl slog.Level
	check(lvl.UnmarshalText([]byte(c.LogLevel)) == nil, "log_level %q is not a slog level", c.LogLevel)
	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// YAML renders the configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	if c.OpenAIAPIKey != "" {
		c.OpenAIAPIKey = "********"
	}
	if c.PGVectorDSN != "" {
		c.PGVectorDSN = "********"
	}
	return yaml.Marshal(c)
}

// Level returns the slog level. Validate has already checked it.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(c.LogLevel))
	return lvl
}

// ─── Component configs ───────────────────────────────────────────────────────

// Registry returns the context registry configuration.
func (c Config) Registry() registry.Config {
	rc := registry.DefaultConfig()
	rc.IdleTTL = c.ContextIdleTTL
	rc.MaxContexts = c.MaxContexts
	rc.Interval = c.EvictionInterval
	rc.Cooldown = c.EvictionCooldown
	rc.MaxConsultations = c.MaxConsultations
	return rc
}

// Open returns the per-project open options.
func (c Config) Open() registry.OpenOptions {
	return registry.OpenOptions{
		DataDirName:      c.DataDirName,
		MaxContentLength: c.MaxContentLength,
		StorageRetries:   c.StorageRetries,
		VectorTimeout:    c.VectorTimeout,
	}
}

// Recall returns the capability configuration.
func (c Config) Recall() recall.Config {
	rc := recall.DefaultConfig()
	rc.ConsultationTTL = c.ConsultationTTL
	rc.Ranking.K = c.RRFK
	rc.Ranking.VectorWeight = c.VectorWeight
	rc.Ranking.HalfLifeDays = c.DecayHalfLifeDays
	rc.Ranking.DiversityCap = c.DiversityCap
	rc.Ranking.NoveltyThreshold = c.NoveltyThreshold
	rc.Ranking.NoveltyWeight = c.NoveltyWeight
	rc.Router.K = c.RRFK
	rc.Router.VectorWeight = c.VectorWeight
	rc.Router.Threshold = c.ComplexityThreshold
	rc.Router.GraphDepth = c.GraphDepth
	return rc
}

// Idle returns the idle reviewer configuration.
func (c Config) Idle() recall.IdleConfig {
	return recall.IdleConfig{IdleAfter: c.IdleAfter, Interval: c.IdleInterval}
}

// Embedding returns the embedding model configuration.
func (c Config) Embedding() embedding.Config {
	return embedding.Config{
		Kind:       c.Embedder,
		Model:      c.EmbeddingModel,
		Dimensions: c.EmbeddingDimensions,
		CacheSize:  c.EmbeddingCacheSize,
		APIKey:     c.OpenAIAPIKey,
		BaseURL:    c.OpenAIBaseURL,
	}
}

// Dispatch returns the dispatcher configuration.
func (c Config) Dispatch() dispatch.Config {
	return dispatch.Config{MaxContentLength: c.MaxContentLength}
}
