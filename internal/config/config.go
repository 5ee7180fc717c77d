// Package config holds the engine's typed configuration (spec.md §6's
// option enumeration) and a lenient JSONC config-file loader.
//
// Grounded on calvinalkan-agent-task/config.go for the
// hujson-standardize-then-json.Unmarshal loading shape, generalized from
// its single flat Config struct to spec.md's functional-option
// constructors over the engine's cache/eviction/checkpoint/block knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Config is the engine's full set of tunables, spanning the block
// manager, cache/eviction, and checkpoint subsystems.
type Config struct {
	// Block manager.
	Allocsize  uint32 `json:"allocsize,omitempty"`
	ExtendSize uint64 `json:"extend_size,omitempty"`

	// Cache & eviction (spec.md §4.7).
	CacheSizeBytes  int64   `json:"cache_size_bytes,omitempty"`
	EvictionTarget  float64 `json:"eviction_target,omitempty"`
	EvictionTrigger float64 `json:"eviction_trigger,omitempty"`
	DirtyTarget     float64 `json:"dirty_target,omitempty"`
	DirtyTrigger    float64 `json:"dirty_trigger,omitempty"`
	ThreadsMin      int     `json:"threads_min,omitempty"`
	ThreadsMax      int     `json:"threads_max,omitempty"`

	// Reconciliation (spec.md §4.6).
	LeafPageMax       int `json:"leaf_page_max,omitempty"`
	InternalPageMax   int `json:"internal_page_max,omitempty"`
	OverflowThreshold int `json:"overflow_threshold,omitempty"`

	// Checkpoint (spec.md §4.10).
	CheckpointInterval time.Duration `json:"checkpoint_interval,omitempty"`

	// Logging (ambient, not in spec.md).
	LogLevel string `json:"log_level,omitempty"`
}

// Default returns the engine's built-in defaults, matching the constants
// internal/cache.DefaultBudget and internal/reconcile.DefaultConfig use
// independently so a caller who never touches Config still gets the same
// numbers either way.
func Default() Config {
	return Config{
		Allocsize:          4096,
		ExtendSize:         1 << 20,
		CacheSizeBytes:     100 << 20,
		EvictionTarget:     0.80,
		EvictionTrigger:    0.95,
		DirtyTarget:        0.05,
		DirtyTrigger:       0.20,
		ThreadsMin:         4,
		ThreadsMax:         8,
		LeafPageMax:        32 * 1024,
		InternalPageMax:    16 * 1024,
		OverflowThreshold:  8 * 1024,
		CheckpointInterval: 60 * time.Second,
		LogLevel:           "info",
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// New builds a Config from Default() plus opts, in order.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithCacheSize(bytes int64) Option {
	return func(c *Config) { c.CacheSizeBytes = bytes }
}

func WithEviction(target, trigger float64) Option {
	return func(c *Config) {
		c.EvictionTarget = target
		c.EvictionTrigger = trigger
	}
}

func WithDirtyThresholds(target, trigger float64) Option {
	return func(c *Config) {
		c.DirtyTarget = target
		c.DirtyTrigger = trigger
	}
}

func WithEvictionThreads(min, max int) Option {
	return func(c *Config) {
		c.ThreadsMin = min
		c.ThreadsMax = max
	}
}

func WithPageMax(leaf, internal int) Option {
	return func(c *Config) {
		c.LeafPageMax = leaf
		c.InternalPageMax = internal
	}
}

func WithOverflowThreshold(n int) Option {
	return func(c *Config) { c.OverflowThreshold = n }
}

func WithCheckpointInterval(d time.Duration) Option {
	return func(c *Config) { c.CheckpointInterval = d }
}

func WithAllocsize(n uint32) Option {
	return func(c *Config) { c.Allocsize = n }
}

func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

// WithBase replaces the Config under construction with base wholesale,
// letting a caller that already produced a full Config (e.g. via Load)
// feed it through the same New(opts...) pipeline as the With* options.
func WithBase(base Config) Option {
	return func(c *Config) { *c = base }
}

// Load reads a JSONC (JSON-with-comments) config document from path,
// overlaying it onto Default(). A missing field keeps its default value
// rather than zeroing it, since Parse unmarshals into a copy of Default()
// and json.Unmarshal leaves fields absent from the document untouched.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled, same as the teacher's loader
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load's body factored out so callers that already have the
// bytes (e.g. an embedded default document) don't need a real file.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid JSONC: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid JSON: %w", err)
	}
	return cfg, nil
}
