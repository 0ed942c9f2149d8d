package noderuntime

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/cache"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/execution"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/hostfunctions"
)

// InvocationLogger receives a record for every completed invocation. It is
// an optional seam: a host application can persist records wherever it
// keeps audit data.
type InvocationLogger interface {
	Log(ctx context.Context, rec *InvocationRecord) error
}

// InvocationRecord summarises one node invocation for audit logging.
type InvocationRecord struct {
	ID           string                    `json:"id"`
	PackageID    string                    `json:"package_id"`
	NodeID       string                    `json:"node_id"`
	RunID        string                    `json:"run_id"`
	InputSize    int                       `json:"input_size"`
	OutputSize   int                       `json:"output_size"`
	StartedAt    time.Time                 `json:"started_at"`
	CompletedAt  time.Time                 `json:"completed_at"`
	DurationMS   int64                     `json:"duration_ms"`
	Status       string                    `json:"status"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	Logs         []hostfunctions.LogEntry `json:"logs,omitempty"`
}

// RateLimiter gates invocations by key before any work is done.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithInvocationLogger sets the invocation logger.
func WithInvocationLogger(logger InvocationLogger) EngineOption {
	return func(e *Engine) { e.invocationLogger = logger }
}

// WithRateLimiter sets the rate limiter applied before every run.
func WithRateLimiter(limiter RateLimiter) EngineOption {
	return func(e *Engine) { e.rateLimiter = limiter }
}

// WithModuleCache overrides the default in-memory compiled-module cache,
// primarily for tests that want a tiny capacity to exercise eviction.
func WithModuleCache(c *cache.ModuleCache) EngineOption {
	return func(e *Engine) { e.moduleCache = c }
}

// WithPayloadStore overrides the default (disabled) on-disk payload store.
func WithPayloadStore(s *cache.PayloadStore) EngineOption {
	return func(e *Engine) { e.payloadStore = s }
}

// Engine owns the wazero runtime, the compilation cache, and the registered
// host-function surface. It does not itself instantiate or run packages;
// that is the Orchestrator's job.
type Engine struct {
	runtime      wazero.Runtime
	config       Config
	logger       *zap.Logger
	hostCloser   interface {
		Close(ctx context.Context) error
	}

	moduleCache  *cache.ModuleCache
	payloadStore *cache.PayloadStore

	invocationLogger InvocationLogger
	rateLimiter      RateLimiter
}

// wazeroRuntimeConfig builds the compiler configuration: bulk-memory, SIMD,
// and reference types are on by default in wazero's NewRuntimeConfig,
// threads are not opted into, and WithCloseOnContextDone(true) makes every
// guest call interruptible at the caller's context deadline, which is how
// wall-clock timeouts and cancellation are enforced.
func wazeroRuntimeConfig(cfg Config) wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.ModuleCacheDiskDir != "" {
		compilationCache := wazero.NewCompilationCache()
		rc = rc.WithCompilationCache(compilationCache)
	}
	return rc
}

// NewEngine builds an Engine: a wazero runtime configured per cfg, the
// bounded module cache, the optional payload store, and the full
// capability-gated host-function surface registered once.
func NewEngine(ctx context.Context, cfg Config, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	cfg.ApplyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid engine config: %v", errs)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazeroRuntimeConfig(cfg))

	hostCloser, err := hostfunctions.Build(ctx, runtime)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("register host module: %w", err)
	}

	moduleCache, err := cache.NewModuleCache(cfg.ModuleCacheMemoryEntries, logger)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("create module cache: %w", err)
	}

	e := &Engine{
		runtime:     runtime,
		config:      cfg,
		logger:      logger,
		hostCloser:  hostCloser,
		moduleCache: moduleCache,
	}
	if cfg.ModuleCacheDiskDir != "" {
		e.payloadStore = cache.NewPayloadStore(cfg.ModuleCacheDiskDir, logger)
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Runtime returns the underlying wazero runtime, for use by the
// Orchestrator/execution package when instantiating modules.
func (e *Engine) Runtime() wazero.Runtime { return e.runtime }

// Config returns a copy of the engine's effective configuration.
func (e *Engine) Config() Config { return e.config }

// RateLimiterAllow checks the configured rate limiter, if any, returning true
// when no limiter is configured.
func (e *Engine) RateLimiterAllow(ctx context.Context, key string) (bool, error) {
	if e.rateLimiter == nil {
		return true, nil
	}
	return e.rateLimiter.Allow(ctx, key)
}

// GetOrCompile returns a cached compiled module for contentHash, compiling
// (and populating both cache tiers) on a miss. wasmBytes is only read on a
// miss; pass nil if the caller already knows the module must be cached
// (e.g. right after Precompile).
func (e *Engine) GetOrCompile(ctx context.Context, contentHash string, wasmBytes []byte) (wazero.CompiledModule, error) {
	if module, ok := e.moduleCache.Get(contentHash); ok {
		return module, nil
	}
	if wasmBytes == nil && e.payloadStore != nil {
		if cached, ok := e.payloadStore.Get(contentHash); ok {
			wasmBytes = cached
		}
	}
	if len(wasmBytes) == 0 {
		return nil, fmt.Errorf("no wasm bytes available for %s and it is not cached", contentHash)
	}
	if e.payloadStore != nil {
		if _, err := e.payloadStore.Put(wasmBytes); err != nil {
			e.logger.Warn("failed to persist wasm payload to disk store", zap.String("content_hash", contentHash), zap.Error(err))
		}
	}
	// Component binaries are unwrapped to their embedded core module here;
	// the cache stays keyed by the hash of the delivered bytes.
	if DetectFormat(wasmBytes) == FormatComponent {
		inner, err := execution.ExtractCoreModule(wasmBytes)
		if err != nil {
			return nil, err
		}
		wasmBytes = inner
	}
	return e.moduleCache.GetOrCompile(ctx, e.runtime, contentHash, wasmBytes)
}

// Precompile eagerly compiles and caches wasmBytes under contentHash.
func (e *Engine) Precompile(ctx context.Context, contentHash string, wasmBytes []byte) error {
	if contentHash == "" {
		return &ValidationError{Field: "contentHash", Message: "cannot be empty"}
	}
	if len(wasmBytes) == 0 {
		return &ValidationError{Field: "wasmBytes", Message: "cannot be empty"}
	}
	_, err := e.GetOrCompile(ctx, contentHash, wasmBytes)
	return err
}

// Invalidate evicts contentHash from the in-memory module cache. Payload
// bytes already written to the on-disk store are not removed.
func (e *Engine) Invalidate(ctx context.Context, contentHash string) {
	e.moduleCache.Invalidate(ctx, contentHash)
}

// GetCacheStats reports the in-memory module cache's current size and capacity.
func (e *Engine) GetCacheStats() (size int, capacity int) {
	return e.moduleCache.Stats()
}

// LogInvocation records rec via the configured InvocationLogger, if any.
func (e *Engine) LogInvocation(ctx context.Context, rec *InvocationRecord) {
	if e.invocationLogger == nil {
		return
	}
	if err := e.invocationLogger.Log(ctx, rec); err != nil {
		e.logger.Warn("failed to log invocation", zap.Error(err))
	}
}

// Close releases the module cache, the host module, and the wazero runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.moduleCache.Clear(ctx)
	if e.hostCloser != nil {
		if err := e.hostCloser.Close(ctx); err != nil {
			e.logger.Warn("failed to close host module", zap.Error(err))
		}
	}
	return e.runtime.Close(ctx)
}
