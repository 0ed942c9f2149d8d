package noderuntime

import "fmt"

// Config controls engine-wide defaults that are not already pinned by a
// package's manifest.
type Config struct {
	// ModuleCacheMemoryEntries bounds the in-memory LRU tier of the
	// compilation cache.
	ModuleCacheMemoryEntries int `yaml:"module_cache_memory_entries"`

	// ModuleCacheDiskDir is the root of the content-addressed on-disk cache
	// tier; empty disables the disk tier entirely.
	ModuleCacheDiskDir string `yaml:"module_cache_disk_dir"`

	// MaxConcurrentInstances is the configured bound on guest instances
	// running at once. Validate requires it to be > 0; the Engine and
	// Orchestrator do not limit concurrent instances by it.
	MaxConcurrentInstances int `yaml:"max_concurrent_instances"`

	// EpochIntervalMS is a configured epoch tick period. Validate requires it
	// to be > 0; no component reads it, and no epoch ticker runs. Wall-clock
	// timeouts are enforced through the context deadline instead.
	EpochIntervalMS int `yaml:"epoch_interval_ms"`

	// ModelsRateLimitPerMinute bounds model-invocation host calls per minute.
	// Each instance gets its own limiter, so the bound applies per
	// invocation, not across all invocations of a package.
	ModelsRateLimitPerMinute int `yaml:"models_rate_limit_per_minute"`

	// StreamBufferSize is the per-run event channel buffer before the
	// streaming layer starts tail-dropping.
	StreamBufferSize int `yaml:"stream_buffer_size"`

	// PendingResumptionMultiplier bounds how long a pending=true invocation
	// may wait for resumption, expressed as a multiple of the package's
	// timeout tier.
	PendingResumptionMultiplier int `yaml:"pending_resumption_multiplier"`
}

// DefaultConfig returns the engine defaults used when no Config is supplied.
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero-valued fields with their defaults, in place.
func (c *Config) ApplyDefaults() {
	if c.ModuleCacheMemoryEntries == 0 {
		c.ModuleCacheMemoryEntries = 128
	}
	if c.MaxConcurrentInstances == 0 {
		c.MaxConcurrentInstances = 64
	}
	if c.EpochIntervalMS == 0 {
		c.EpochIntervalMS = 100
	}
	if c.ModelsRateLimitPerMinute == 0 {
		c.ModelsRateLimitPerMinute = 60
	}
	if c.StreamBufferSize == 0 {
		c.StreamBufferSize = 256
	}
	if c.PendingResumptionMultiplier == 0 {
		c.PendingResumptionMultiplier = 4
	}
}

// Validate checks the config for internally inconsistent values, returning
// every problem found rather than failing fast.
func (c *Config) Validate() []error {
	var errs []error

	if c.ModuleCacheMemoryEntries < 0 {
		errs = append(errs, fmt.Errorf("module_cache_memory_entries must be >= 0, got %d", c.ModuleCacheMemoryEntries))
	}
	if c.MaxConcurrentInstances <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_instances must be > 0, got %d", c.MaxConcurrentInstances))
	}
	if c.EpochIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("epoch_interval_ms must be > 0, got %d", c.EpochIntervalMS))
	}
	if c.ModelsRateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("models_rate_limit_per_minute must be >= 0, got %d", c.ModelsRateLimitPerMinute))
	}
	if c.StreamBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("stream_buffer_size must be > 0, got %d", c.StreamBufferSize))
	}
	if c.PendingResumptionMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("pending_resumption_multiplier must be > 0, got %d", c.PendingResumptionMultiplier))
	}

	return errs
}

// WithModuleCacheMemoryEntries returns a copy of c with the in-memory cache
// bound overridden, primarily for tests.
func (c Config) WithModuleCacheMemoryEntries(n int) Config {
	c.ModuleCacheMemoryEntries = n
	return c
}

// WithModuleCacheDiskDir returns a copy of c with the disk cache directory overridden.
func (c Config) WithModuleCacheDiskDir(dir string) Config {
	c.ModuleCacheDiskDir = dir
	return c
}

// WithMaxConcurrentInstances returns a copy of c with the concurrency bound overridden.
func (c Config) WithMaxConcurrentInstances(n int) Config {
	c.MaxConcurrentInstances = n
	return c
}
