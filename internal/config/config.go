// Package config loads and validates the engine's configuration schema
// covering durable/cache backends, pool and cache tuning, the pattern
// queue, retrieval weights, the embedding provider, and circuit breaker
// tuning. Unknown keys, at the top level or inside a section, are rejected
// at startup.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/relaymind/epimem/internal/errors"
)

// BackendConfig configures the durable store location and credentials.
type BackendConfig struct {
	Durable DurableConfig `yaml:"durable"`
}

type DurableConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
}

// PoolConfig configures the connection pool.
type PoolConfig struct {
	MaxConnections    int           `yaml:"max_connections"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	StaleThreshold    time.Duration `yaml:"stale_threshold"`
}

// CacheConfig configures the embedded cache backend and adaptive TTL.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxEpisodes     int           `yaml:"max_episodes"`
	MaxPatterns     int           `yaml:"max_patterns"`
	BaseTTL         time.Duration `yaml:"base_ttl"`
	MinTTL          time.Duration `yaml:"min_ttl"`
	MaxTTL          time.Duration `yaml:"max_ttl"`
	AdaptiveScaling bool          `yaml:"adaptive_scaling"`
}

// PreparedConfig configures the prepared-statement LRU cache.
type PreparedConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// QueueConfig configures the pattern extraction queue.
type QueueConfig struct {
	Capacity          int           `yaml:"capacity"`
	SubmissionTimeout time.Duration `yaml:"submission_timeout"`
}

// RetrievalConfig configures the retrieval engine's ranking.
type RetrievalConfig struct {
	DefaultLimit        int                `yaml:"default_limit"`
	CandidateMultiplier int                `yaml:"candidate_multiplier"`
	Weights             map[string]float64 `yaml:"weights"`
	DiversityThreshold  float64            `yaml:"diversity_threshold"`
}

// EmbeddingConfig configures the semantic provider.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // local | remote | mock
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CircuitConfig configures the circuit breaker.
type CircuitConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// CompressionConfig toggles at-rest compression of large cache payloads.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the engine's full configuration schema.
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Pool        PoolConfig        `yaml:"pool"`
	Cache       CacheConfig       `yaml:"cache"`
	Prepared    PreparedConfig    `yaml:"prepared"`
	Queue       QueueConfig       `yaml:"queue"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Circuit     CircuitConfig     `yaml:"circuit"`
	Compression CompressionConfig `yaml:"compression"`
}

// recognisedKeys mirrors the top-level keys in the configuration
// schema table; Load rejects any other top-level key with InvalidConfig.
var recognisedKeys = map[string]bool{
	"backend": true, "pool": true, "cache": true, "prepared": true,
	"queue": true, "retrieval": true, "embedding": true, "circuit": true,
	"compression": true,
}

// Default returns the engine's default configuration.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxConnections:    20,
			AcquireTimeout:    5 * time.Second,
			KeepAliveInterval: 30 * time.Second,
			StaleThreshold:    5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:         true,
			MaxEpisodes:     10000,
			MaxPatterns:     5000,
			BaseTTL:         5 * time.Minute,
			MinTTL:          30 * time.Second,
			MaxTTL:          1 * time.Hour,
			AdaptiveScaling: true,
		},
		Prepared: PreparedConfig{MaxEntries: 256},
		Queue: QueueConfig{
			Capacity:          1024,
			SubmissionTimeout: 2 * time.Second,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:        10,
			CandidateMultiplier: 4,
			Weights: map[string]float64{
				"semantic": 0.45,
				"recency":  0.2,
				"reward":   0.2,
				"tag":      0.1,
				"domain":   0.05,
			},
			DiversityThreshold: 0.92,
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Dimension: 384,
			Timeout:   10 * time.Second,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
	}
}

// Load reads, parses, validates and returns the configuration at path,
// layering environment overrides on top of file values.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeConfig, "failed to read config file: %s", path)
	}

	if err := rejectUnknownKeys(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeConfig, "failed to parse config file: %s", path)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func rejectUnknownKeys(raw []byte) error {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeConfig, "failed to parse config file")
	}
	for key := range generic {
		if !recognisedKeys[key] {
			return apperrors.Newf(apperrors.ErrorTypeConfig, "unrecognised configuration key: %s", key)
		}
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("EPIMEM_DURABLE_URL"); v != "" {
		cfg.Backend.Durable.URL = v
	}
	if v := os.Getenv("EPIMEM_DURABLE_AUTH_TOKEN"); v != "" {
		cfg.Backend.Durable.AuthToken = v
	}
	if v := os.Getenv("EPIMEM_POOL_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeConfig, "invalid EPIMEM_POOL_MAX_CONNECTIONS")
		}
		cfg.Pool.MaxConnections = n
	}
	if v := os.Getenv("EPIMEM_CACHE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeConfig, "invalid EPIMEM_CACHE_ENABLED")
		}
		cfg.Cache.Enabled = b
	}
	if v := os.Getenv("EPIMEM_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Backend.Durable.URL == "" {
		return apperrors.NewConfigError("backend.durable.url is required")
	}
	if cfg.Pool.MaxConnections <= 0 {
		return apperrors.NewConfigError("pool.max_connections must be greater than 0")
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.MinTTL <= 0 || cfg.Cache.MaxTTL <= 0 || cfg.Cache.BaseTTL <= 0 {
			return apperrors.NewConfigError("cache.min_ttl, cache.base_ttl and cache.max_ttl must be positive")
		}
		if cfg.Cache.MinTTL > cfg.Cache.BaseTTL || cfg.Cache.BaseTTL > cfg.Cache.MaxTTL {
			return apperrors.NewConfigError("cache TTL bounds must satisfy min_ttl <= base_ttl <= max_ttl")
		}
	}
	if cfg.Queue.Capacity <= 0 {
		return apperrors.NewConfigError("queue.capacity must be greater than 0")
	}
	if cfg.Retrieval.DefaultLimit < 1 || cfg.Retrieval.DefaultLimit > 100 {
		return apperrors.NewConfigError("retrieval.default_limit must be between 1 and 100")
	}
	if cfg.Retrieval.CandidateMultiplier < 1 {
		return apperrors.NewConfigError("retrieval.candidate_multiplier must be at least 1")
	}
	if cfg.Retrieval.DiversityThreshold < 0 || cfg.Retrieval.DiversityThreshold > 1 {
		return apperrors.NewConfigError("retrieval.diversity_threshold must be between 0.0 and 1.0")
	}
	switch cfg.Embedding.Provider {
	case "local", "remote", "mock":
	default:
		return apperrors.Newf(apperrors.ErrorTypeConfig, "unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimension <= 0 {
		return apperrors.NewConfigError("embedding.dimension must be greater than 0")
	}
	if cfg.Circuit.FailureThreshold == 0 {
		return apperrors.NewConfigError("circuit.failure_threshold must be greater than 0")
	}
	return nil
}

// String renders the configuration without leaking the auth token.
func (c *Config) String() string {
	token := "<unset>"
	if c.Backend.Durable.AuthToken != "" {
		token = "<redacted>"
	}
	return fmt.Sprintf("Config{durable_url=%s auth_token=%s pool.max_connections=%d cache.enabled=%v embedding.provider=%s}",
		c.Backend.Durable.URL, token, c.Pool.MaxConnections, c.Cache.Enabled, c.Embedding.Provider)
}
