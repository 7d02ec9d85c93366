// Package config holds the engine configuration. Everything the engine
// tunes by magic number in its defaults (thresholds, TTLs, confidence
// adjustments) lives here so multiple engine instances can run with
// independent settings. There are no package-level singletons.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"leakhound/internal/leak"
)

// ScanConfig controls static file/project scanning.
type ScanConfig struct {
	// FileTimeout bounds the analysis of a single file. Exceeding it
	// aborts only that file, never the batch.
	FileTimeout time.Duration `yaml:"file_timeout"`
	// CacheTTL is how long a cached scan result stays valid for an
	// unchanged file.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// Parallelism caps concurrent file workers; 1 means sequential.
	Parallelism int `yaml:"parallelism"`
	// MaxFileBytes skips files larger than this size.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	// IgnorePatterns skips matching paths/dirs relative to the project
	// root. Supports plain dir names and glob patterns.
	IgnorePatterns []string `yaml:"ignore_patterns"`
	// WatchInvalidation starts a filesystem watcher that evicts cache
	// entries the moment the underlying file changes.
	WatchInvalidation bool `yaml:"watch_invalidation"`
}

// ConfidenceConfig parameterizes the deterministic confidence model.
// Defaults reproduce the documented rule table; they are configurable,
// not load-bearing constants.
type ConfidenceConfig struct {
	Base            float64 `yaml:"base"`
	IntervalBonus   float64 `yaml:"interval_bonus"`
	ComponentBonus  float64 `yaml:"component_bonus"`
	EffectHookBonus float64 `yaml:"effect_hook_bonus"`
	NoTeardownBonus float64 `yaml:"no_teardown_bonus"`
	UnboundPenalty  float64 `yaml:"unbound_penalty"`
	Min             float64 `yaml:"min"`
	Max             float64 `yaml:"max"`
}

// SnapshotConfig controls memory snapshot capture and leak bucketing.
type SnapshotConfig struct {
	// ForceGC requests a garbage collection before sampling.
	ForceGC bool `yaml:"force_gc"`
	// GCSettle is the bounded delay between the GC request and sampling,
	// letting collector effects settle before measurement.
	GCSettle time.Duration `yaml:"gc_settle"`
	// LeakThresholdMB is the minimum positive heap delta considered a leak.
	LeakThresholdMB float64 `yaml:"leak_threshold_mb"`
	// ModerateThresholdMB and SevereThresholdMB bucket leak severity.
	ModerateThresholdMB float64 `yaml:"moderate_threshold_mb"`
	SevereThresholdMB   float64 `yaml:"severe_threshold_mb"`
}

// RegressionConfig holds default thresholds for regression detection.
// Callers may override per call.
type RegressionConfig struct {
	MemoryThresholdMB    float64       `yaml:"memory_threshold_mb"`
	ResourceThreshold    int           `yaml:"resource_threshold"`
	PerformanceThreshold time.Duration `yaml:"performance_threshold"`
	// ConfidenceDeltaMB is the absolute memory delta beyond which the
	// regression confidence earns its large-delta bonus.
	ConfidenceDeltaMB float64 `yaml:"confidence_delta_mb"`
	// MinSampleInterval is the snapshot spacing under which confidence
	// is reduced for sampling noise.
	MinSampleInterval time.Duration `yaml:"min_sample_interval"`
}

// RuntimeConfig controls live-process resource tracking.
type RuntimeConfig struct {
	Enabled bool `yaml:"enabled"`
	// LongRunningTimerThreshold flags tracked timers older than this.
	LongRunningTimerThreshold time.Duration `yaml:"long_running_timer_threshold"`
	// ListenerWarnCount flags processes holding more live listeners.
	ListenerWarnCount int `yaml:"listener_warn_count"`
}

// Config is the full engine configuration.
type Config struct {
	Scan       ScanConfig       `yaml:"scan"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Regression RegressionConfig `yaml:"regression"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	// MinFixConfidence is the floor below which a fix is skipped rather
	// than validated for application.
	MinFixConfidence float64 `yaml:"min_fix_confidence"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		Scan: ScanConfig{
			FileTimeout:  10 * time.Second,
			CacheTTL:     5 * time.Minute,
			Parallelism:  4,
			MaxFileBytes: 2 * 1024 * 1024,
			IgnorePatterns: []string{
				".git",
				"node_modules",
				"vendor",
				"dist",
				"build",
				".next",
			},
		},
		Confidence: ConfidenceConfig{
			Base:            0.5,
			IntervalBonus:   0.2,
			ComponentBonus:  0.2,
			EffectHookBonus: 0.2,
			NoTeardownBonus: 0.2,
			UnboundPenalty:  0.3,
			Min:             0.1,
			Max:             1.0,
		},
		Snapshot: SnapshotConfig{
			ForceGC:             true,
			GCSettle:            100 * time.Millisecond,
			LeakThresholdMB:     5,
			ModerateThresholdMB: 20,
			SevereThresholdMB:   50,
		},
		Regression: RegressionConfig{
			MemoryThresholdMB:    10,
			ResourceThreshold:    10,
			PerformanceThreshold: 500 * time.Millisecond,
			ConfidenceDeltaMB:    10,
			MinSampleInterval:    time.Second,
		},
		Runtime: RuntimeConfig{
			Enabled:                   false,
			LongRunningTimerThreshold: 30 * time.Minute,
			ListenerWarnCount:         100,
		},
		MinFixConfidence: 0.3,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values eagerly. Nothing is clamped.
func (c Config) Validate() error {
	if c.Confidence.Base < 0 || c.Confidence.Base > 1 {
		return &leak.ConfigurationError{Field: "confidence.base", Value: c.Confidence.Base, Reason: "must be within [0,1]"}
	}
	if c.Confidence.Min < 0 || c.Confidence.Min > 1 {
		return &leak.ConfigurationError{Field: "confidence.min", Value: c.Confidence.Min, Reason: "must be within [0,1]"}
	}
	if c.Confidence.Max < 0 || c.Confidence.Max > 1 {
		return &leak.ConfigurationError{Field: "confidence.max", Value: c.Confidence.Max, Reason: "must be within [0,1]"}
	}
	if c.Confidence.Min > c.Confidence.Max {
		return &leak.ConfigurationError{Field: "confidence.min", Value: c.Confidence.Min, Reason: "must not exceed confidence.max"}
	}
	if c.MinFixConfidence < 0 || c.MinFixConfidence > 1 {
		return &leak.ConfigurationError{Field: "min_fix_confidence", Value: c.MinFixConfidence, Reason: "must be within [0,1]"}
	}
	if c.Scan.Parallelism < 1 {
		return &leak.ConfigurationError{Field: "scan.parallelism", Value: c.Scan.Parallelism, Reason: "must be at least 1"}
	}
	if c.Scan.FileTimeout <= 0 {
		return &leak.ConfigurationError{Field: "scan.file_timeout", Value: c.Scan.FileTimeout, Reason: "must be positive"}
	}
	if c.Scan.CacheTTL < 0 {
		return &leak.ConfigurationError{Field: "scan.cache_ttl", Value: c.Scan.CacheTTL, Reason: "must not be negative"}
	}
	if c.Snapshot.GCSettle < 0 {
		return &leak.ConfigurationError{Field: "snapshot.gc_settle", Value: c.Snapshot.GCSettle, Reason: "must not be negative"}
	}
	if c.Snapshot.LeakThresholdMB <= 0 {
		return &leak.ConfigurationError{Field: "snapshot.leak_threshold_mb", Value: c.Snapshot.LeakThresholdMB, Reason: "must be positive"}
	}
	if c.Snapshot.ModerateThresholdMB < c.Snapshot.LeakThresholdMB {
		return &leak.ConfigurationError{Field: "snapshot.moderate_threshold_mb", Value: c.Snapshot.ModerateThresholdMB, Reason: "must be at least leak_threshold_mb"}
	}
	if c.Snapshot.SevereThresholdMB < c.Snapshot.ModerateThresholdMB {
		return &leak.ConfigurationError{Field: "snapshot.severe_threshold_mb", Value: c.Snapshot.SevereThresholdMB, Reason: "must be at least moderate_threshold_mb"}
	}
	if c.Regression.MemoryThresholdMB <= 0 {
		return &leak.ConfigurationError{Field: "regression.memory_threshold_mb", Value: c.Regression.MemoryThresholdMB, Reason: "must be positive"}
	}
	if c.Regression.ResourceThreshold <= 0 {
		return &leak.ConfigurationError{Field: "regression.resource_threshold", Value: c.Regression.ResourceThreshold, Reason: "must be positive"}
	}
	if c.Regression.ConfidenceDeltaMB <= 0 {
		return &leak.ConfigurationError{Field: "regression.confidence_delta_mb", Value: c.Regression.ConfidenceDeltaMB, Reason: "must be positive"}
	}
	if c.Regression.MinSampleInterval <= 0 {
		return &leak.ConfigurationError{Field: "regression.min_sample_interval", Value: c.Regression.MinSampleInterval, Reason: "must be positive"}
	}
	return nil
}
